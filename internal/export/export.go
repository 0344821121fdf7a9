package export

import (
	"fmt"

	"pagepress/internal/content"
	"pagepress/internal/entitlement"
	"pagepress/internal/layout"
)

// Format 标识导出目标格式。
type Format string

const (
	FormatPDF    Format = "pdf"
	FormatSlides Format = "pptx"
	FormatCSV    Format = "csv"
)

// ContentType 返回该格式的 MIME 类型。
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatSlides:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case FormatCSV:
		return "text/csv"
	}
	return "application/octet-stream"
}

// Ext 返回该格式的文件后缀（不含点）。
func (f Format) Ext() string {
	return string(f)
}

// Valid reports whether the format is one the pipeline can produce.
func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatSlides, FormatCSV:
		return true
	}
	return false
}

// Export 驱动单次导出：内容模型 → 分页（仅分页格式需要）→ 序列化。
// The raster snapshot goes through Raster directly since it needs a
// rendered view rather than the content model.
func Export(m *content.Model, format Format, geom layout.Geometry, tier entitlement.Tier) ([]byte, error) {
	switch format {
	case FormatPDF:
		pl, err := layout.Paginate(m, geom)
		if err != nil {
			return nil, err
		}
		return Paged(pl, tier)
	case FormatSlides:
		return Slides(m)
	case FormatCSV:
		text, err := Tabular(m)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", ErrSerialization, format)
}
