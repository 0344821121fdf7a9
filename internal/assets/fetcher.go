package assets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pagepress/internal/content"
	"pagepress/internal/storage"
)

// ObjectStore 抽象对象存储读取接口，方便在测试中替换 MinIO。
type ObjectStore interface {
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// minioStore 将 storage.Client 适配为 ObjectStore。
type minioStore struct {
	client *storage.Client
}

func (s *minioStore) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Fetcher 在导出前把内容模型里的图片引用解析为内联字节。
// 无法解析的引用会被降级为"无图片"并记入缺失列表，导出流程继续。
type Fetcher struct {
	store    ObjectStore
	http     *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher 构造 Fetcher。maxBytes 限制单张图片的体积，<=0 时使用默认 10MB。
func NewFetcher(client *storage.Client, maxBytes int64, logger *slog.Logger) *Fetcher {
	return newFetcher(&minioStore{client: client}, maxBytes, logger)
}

func newFetcher(store ObjectStore, maxBytes int64, logger *slog.Logger) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		store:    store,
		http:     &http.Client{Timeout: 15 * time.Second},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Resolve 遍历模型中的全部图片引用并就地填充字节数据。
// 返回无法解析的引用列表；只有基础设施级错误才会返回 error。
func (f *Fetcher) Resolve(ctx context.Context, m *content.Model) ([]string, error) {
	if m == nil {
		return nil, nil
	}

	var missing []string
	resolve := func(ref *content.ImageRef) {
		if ref == nil || ref.Empty() || len(ref.Data) > 0 {
			return
		}
		data, err := f.fetch(ctx, ref.URL)
		if err != nil {
			f.logger.Warn("图片引用解析失败，降级为无图片", "source", ref.URL, "error", err)
			missing = append(missing, ref.URL)
			*ref = content.ImageRef{}
			return
		}
		ref.Data = data
	}

	for i := range m.Sections {
		sec := &m.Sections[i]
		switch sec.Kind {
		case content.KindCover:
			if sec.Cover != nil {
				resolve(&sec.Cover.Image)
			}
		case content.KindAbout:
			if sec.About != nil {
				resolve(&sec.About.Image)
			}
		case content.KindItemList:
			if sec.ItemList != nil {
				for j := range sec.ItemList.Items {
					resolve(&sec.ItemList.Items[j].Image)
				}
			}
		case content.KindGallery:
			if sec.Gallery != nil {
				for j := range sec.Gallery.Images {
					resolve(&sec.Gallery.Images[j])
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return missing, err
	}
	return missing, nil
}

// fetch 区分 http(s) 链接与对象存储 key 两种来源。
func (f *Fetcher) fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return f.fetchHTTP(ctx, source)
	}
	return f.fetchObject(ctx, source)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: unexpected status %d", rawURL, resp.StatusCode)
	}
	return f.readCapped(resp.Body)
}

func (f *Fetcher) fetchObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := f.store.GetObject(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := f.readCapped(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", objectKey, err)
	}
	return data, nil
}

func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image source is empty")
	}
	return data, nil
}
