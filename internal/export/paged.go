package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"pagepress/internal/entitlement"
	"pagepress/internal/layout"
)

// ErrSerialization 表示单次导出调用的致命序列化错误。
var ErrSerialization = errors.New("export: serialization failed")

const pagedFontFamily = "Helvetica"

// Paged 将分页版面序列化为 PDF 字节。
// Image ops must already carry resolved bytes; ops that only reference
// a URL are skipped (the asset fetcher degrades missing images before
// layout, this is the last line of that policy). The watermark for the
// given tier is stamped on every page after its content ops.
func Paged(pl *layout.Layout, tier entitlement.Tier) ([]byte, error) {
	doc := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pl.Geometry.PageW, Ht: pl.Geometry.PageH},
	})
	doc.SetAutoPageBreak(false, 0)
	// Fixed creation date keeps identical layouts byte-identical.
	doc.SetCreationDate(time.Unix(0, 0).UTC())
	tr := doc.UnicodeTranslatorFromDescriptor("")

	for _, page := range pl.Pages {
		doc.AddPage()
		for i, op := range page.Ops {
			switch v := op.(type) {
			case layout.TextOp:
				drawText(doc, tr, v)
			case layout.ImageOp:
				if err := drawImage(doc, v, fmt.Sprintf("p%d-i%d", page.Index, i)); err != nil {
					return nil, err
				}
			case layout.RectOp:
				r, g, b := parseHexColor(v.Color)
				doc.SetFillColor(r, g, b)
				doc.Rect(v.X, v.Y, v.W, v.H, "F")
			case layout.LineOp:
				r, g, b := parseHexColor(v.Color)
				doc.SetDrawColor(r, g, b)
				doc.SetLineWidth(v.Width)
				doc.Line(v.X1, v.Y1, v.X2, v.Y2)
			}
		}
		entitlement.Stamp(doc, pl.Geometry.PageW, pl.Geometry.PageH, tier)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: write pdf: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func drawText(doc *gofpdf.Fpdf, tr func(string) string, op layout.TextOp) {
	doc.SetFont(pagedFontFamily, string(op.Weight), op.FontSize)
	r, g, b := parseHexColor(op.Color)
	doc.SetTextColor(r, g, b)
	// op.Y is the top of the line box; gofpdf positions the baseline.
	doc.Text(op.X, op.Y+op.FontSize*0.85, tr(op.Content))
}

func drawImage(doc *gofpdf.Fpdf, op layout.ImageOp, name string) error {
	if len(op.Source.Data) == 0 {
		return nil
	}
	imageType := sniffImageType(op.Source.Data)
	if imageType == "" {
		return fmt.Errorf("%w: unsupported image format for %q", ErrSerialization, op.Source.URL)
	}
	opts := gofpdf.ImageOptions{ImageType: imageType}
	doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(op.Source.Data))
	doc.ImageOptions(name, op.X, op.Y, op.W, op.H, false, opts, 0, "")
	if doc.Err() {
		return fmt.Errorf("%w: embed image %q: %v", ErrSerialization, name, doc.Error())
	}
	return nil
}

func sniffImageType(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	}
	return ""
}

// parseHexColor 解析 #rrggbb / #rgb，解析失败回退为黑色。
func parseHexColor(s string) (int, int, int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return 0, 0, 0
	}
	value, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(value >> 16), int(value >> 8 & 0xff), int(value & 0xff)
}
