package template

// ID 标识一个内置版式模板。
type ID string

const (
	// Classic 单栏版式，内容自上而下流式排布。
	Classic ID = "classic"
	// Sidebar 双栏版式，左侧为固定宽度的色块侧栏。
	Sidebar ID = "sidebar"
	// Banner 顶部通栏版式，每页顶部保留一条全宽色带。
	Banner ID = "banner"
)

// TypeScale 定义各类文本的字号（pt）。
type TypeScale struct {
	Title   float64
	Heading float64
	Body    float64
	Caption float64
}

// Policy 描述一个模板的布局规则。All lengths are in points.
type Policy struct {
	ID           ID
	SidebarWidth float64 // 0 when the template has no sidebar
	BandHeight   float64 // 0 when the template has no header band
	RowHeight    float64 // fixed table row height
	LineSpacing  float64 // multiplier applied to the font size
	Scale        TypeScale
}

var policies = map[ID]Policy{
	Classic: {
		ID:          Classic,
		RowHeight:   22,
		LineSpacing: 1.45,
		Scale:       TypeScale{Title: 28, Heading: 18, Body: 11, Caption: 9},
	},
	Sidebar: {
		ID:           Sidebar,
		SidebarWidth: 150,
		RowHeight:    22,
		LineSpacing:  1.45,
		Scale:        TypeScale{Title: 26, Heading: 16, Body: 11, Caption: 9},
	},
	Banner: {
		ID:          Banner,
		BandHeight:  90,
		RowHeight:   22,
		LineSpacing: 1.45,
		Scale:       TypeScale{Title: 30, Heading: 18, Body: 11, Caption: 9},
	},
}

// Lookup 根据模板 ID 返回版式规则。
// Unknown ids fall back to the Classic policy, never an error.
func Lookup(id string) Policy {
	if p, ok := policies[ID(id)]; ok {
		return p
	}
	return policies[Classic]
}
