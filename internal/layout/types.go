package layout

import "errors"

// ErrInvalidGeometry 表示页面尺寸或边距不合法（调用方配置错误）。
var ErrInvalidGeometry = errors.New("layout: invalid page geometry")

// Geometry 描述目标页面的尺寸与边距，单位为 pt（1" = 72pt）。
type Geometry struct {
	PageW  float64
	PageH  float64
	Margin float64
}

// A4 页面尺寸（pt）。
var A4 = Geometry{PageW: 595.28, PageH: 841.89, Margin: 48}

// FontWeight 文本字重。
type FontWeight string

const (
	WeightRegular FontWeight = ""
	WeightBold    FontWeight = "B"
)

// Op is a positioned draw operation on a page. The concrete types form
// a closed set: TextOp, ImageOp, RectOp, LineOp.
type Op interface {
	// Bounds returns the axis-aligned box (x0, y0, x1, y1) the op occupies.
	Bounds() (float64, float64, float64, float64)
}

// TextOp 在 (X, Y) 处绘制一行文本。Y is the top of the line box.
type TextOp struct {
	X, Y, W  float64
	FontSize float64
	Weight   FontWeight
	Color    string // hex, e.g. "#1a1a2e"
	Align    string // "L" or "R"
	Content  string
}

// Bounds 实现 Op。
func (t TextOp) Bounds() (float64, float64, float64, float64) {
	return t.X, t.Y, t.X + t.W, t.Y + t.FontSize
}

// ImageOp 在 (X, Y) 处放置一张图片。
type ImageOp struct {
	X, Y, W, H float64
	Source     ImageSource
}

// ImageSource carries either resolved raw bytes or the original URL.
type ImageSource struct {
	URL  string
	Data []byte
}

// Bounds 实现 Op。
func (i ImageOp) Bounds() (float64, float64, float64, float64) {
	return i.X, i.Y, i.X + i.W, i.Y + i.H
}

// RectOp 填充矩形（侧栏、色带等装饰）。
type RectOp struct {
	X, Y, W, H float64
	Color      string
}

// Bounds 实现 Op。
func (r RectOp) Bounds() (float64, float64, float64, float64) {
	return r.X, r.Y, r.X + r.W, r.Y + r.H
}

// LineOp 绘制一条直线。
type LineOp struct {
	X1, Y1, X2, Y2 float64
	Color          string
	Width          float64
}

// Bounds 实现 Op。
func (l LineOp) Bounds() (float64, float64, float64, float64) {
	x0, x1 := l.X1, l.X2
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	y0, y1 := l.Y1, l.Y2
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return x0, y0, x1, y1
}

// Page 一页内按绘制顺序排列的操作。Index is 1-based.
type Page struct {
	Index int
	Ops   []Op
}

// Layout 分页后的完整版面，由 Engine 从内容模型派生，用后即弃。
type Layout struct {
	Geometry Geometry
	Pages    []Page
}
