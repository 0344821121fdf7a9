package layout

import (
	"fmt"
	"strings"

	"pagepress/internal/content"
	"pagepress/internal/template"
)

const (
	defaultTextColor  = "#1f2933"
	defaultMutedColor = "#6b7280"
	defaultRuleColor  = "#d1d5db"

	// 图片未解码时采用的默认宽高比（w:h = 4:3）。
	imageAspect = 0.75

	sectionGapFactor = 1.2
)

// Paginate 将内容模型按模板规则转换为分页版面。
// Pure and deterministic: identical inputs always produce the same
// pages, ops and coordinates. Missing optional fields never fail;
// the only error is ErrInvalidGeometry.
func Paginate(m *content.Model, geom Geometry) (*Layout, error) {
	if err := validateGeometry(geom); err != nil {
		return nil, err
	}

	w := &walker{
		geom:  geom,
		pol:   template.Lookup(m.Theme.TemplateID),
		theme: m.Theme,
	}
	w.computeContentBox()
	w.startPage()
	w.emitTitle(m.Title)

	for _, s := range m.Sections {
		if s.IsEmpty() {
			continue
		}
		w.sectionGap()
		switch s.Kind {
		case content.KindCover:
			w.cover(s.Cover)
		case content.KindAbout:
			w.about(s.About)
		case content.KindItemList:
			w.itemList(s.ItemList)
		case content.KindPriceTable:
			w.priceTable(s.PriceTable)
		case content.KindGallery:
			w.gallery(s.Gallery)
		case content.KindTestimonials:
			w.testimonials(s.Testimonials)
		case content.KindContacts:
			w.contacts(s.Contacts)
		}
	}

	w.flushPage()
	return &Layout{Geometry: geom, Pages: w.pages}, nil
}

func validateGeometry(geom Geometry) error {
	if geom.PageW <= 0 || geom.PageH <= 0 || geom.Margin <= 0 {
		return fmt.Errorf("%w: page %.1fx%.1f margin %.1f", ErrInvalidGeometry, geom.PageW, geom.PageH, geom.Margin)
	}
	if geom.Margin*2 >= geom.PageW || geom.Margin*2 >= geom.PageH {
		return fmt.Errorf("%w: margins leave no content area", ErrInvalidGeometry)
	}
	return nil
}

// walker 持有单次分页过程的全部可变状态。
type walker struct {
	geom  Geometry
	pol   template.Policy
	theme content.Theme

	pages []Page
	ops   []Op

	x0, y0, x1, y1 float64 // content box
	y              float64
}

func (w *walker) computeContentBox() {
	w.x0 = w.geom.Margin + w.pol.SidebarWidth
	w.y0 = w.geom.Margin + w.pol.BandHeight
	w.x1 = w.geom.PageW - w.geom.Margin
	w.y1 = w.geom.PageH - w.geom.Margin
}

func (w *walker) boxWidth() float64  { return w.x1 - w.x0 }
func (w *walker) boxHeight() float64 { return w.y1 - w.y0 }

func (w *walker) primary() string {
	if strings.TrimSpace(w.theme.PrimaryColor) != "" {
		return w.theme.PrimaryColor
	}
	return defaultTextColor
}

func (w *walker) secondary() string {
	if strings.TrimSpace(w.theme.SecondaryColor) != "" {
		return w.theme.SecondaryColor
	}
	return defaultMutedColor
}

func (w *walker) lineHeight(fontSize float64) float64 {
	return fontSize * w.pol.LineSpacing
}

// startPage opens a fresh page and re-emits the persistent chrome the
// template requires on every page.
func (w *walker) startPage() {
	w.ops = nil
	if w.pol.SidebarWidth > 0 {
		w.ops = append(w.ops, RectOp{X: 0, Y: 0, W: w.pol.SidebarWidth, H: w.geom.PageH, Color: w.primary()})
	}
	if w.pol.BandHeight > 0 {
		w.ops = append(w.ops, RectOp{X: 0, Y: 0, W: w.geom.PageW, H: w.pol.BandHeight, Color: w.primary()})
	}
	w.y = w.y0
}

func (w *walker) flushPage() {
	w.pages = append(w.pages, Page{Index: len(w.pages) + 1, Ops: w.ops})
	w.ops = nil
}

// ensure guarantees at least h points of vertical room, starting a new
// page when the current one cannot hold the block.
func (w *walker) ensure(h float64) {
	if w.y+h > w.y1 {
		w.flushPage()
		w.startPage()
	}
}

func (w *walker) sectionGap() {
	if w.y == w.y0 {
		return
	}
	gap := w.lineHeight(w.pol.Scale.Body) * sectionGapFactor
	if w.y+gap > w.y1 {
		return // next ensure() will page-break anyway
	}
	w.y += gap
}

func (w *walker) emitLine(text string, fontSize float64, weight FontWeight, color string) {
	lh := w.lineHeight(fontSize)
	w.ensure(lh)
	w.ops = append(w.ops, TextOp{
		X: w.x0, Y: w.y, W: w.boxWidth(),
		FontSize: fontSize, Weight: weight, Color: color, Align: "L",
		Content: text,
	})
	w.y += lh
}

func (w *walker) emitWrapped(text string, fontSize float64, weight FontWeight, color string) {
	for _, line := range wrapText(text, w.boxWidth(), fontSize) {
		w.emitLine(line, fontSize, weight, color)
	}
}

// emitTitle places the document title. On the Banner template the
// title lives inside the band and consumes no content-box space.
func (w *walker) emitTitle(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	size := w.pol.Scale.Title
	if w.pol.BandHeight > 0 {
		w.ops = append(w.ops, TextOp{
			X: w.geom.Margin, Y: (w.pol.BandHeight - size) / 2,
			W: w.geom.PageW - 2*w.geom.Margin,
			FontSize: size, Weight: WeightBold, Color: "#ffffff", Align: "L",
			Content: title,
		})
		return
	}
	w.emitWrapped(title, size, WeightBold, w.primary())
}

// emitImage places one image scaled to fit the content box while
// preserving the assumed aspect ratio; it never overflows the page.
func (w *walker) emitImage(ref content.ImageRef, widthFactor float64) {
	if ref.Empty() {
		return
	}
	iw := w.boxWidth() * widthFactor
	ih := iw * imageAspect
	if maxH := w.boxHeight(); ih > maxH {
		ih = maxH
		iw = ih / imageAspect
	}
	w.ensure(ih)
	w.ops = append(w.ops, ImageOp{
		X: w.x0, Y: w.y, W: iw, H: ih,
		Source: ImageSource{URL: ref.URL, Data: ref.Data},
	})
	w.y += ih
}

func (w *walker) cover(c *content.Cover) {
	w.emitImage(c.Image, 1)
}

func (w *walker) about(a *content.About) {
	if strings.TrimSpace(a.Heading) != "" {
		w.emitWrapped(a.Heading, w.pol.Scale.Heading, WeightBold, w.primary())
	}
	if strings.TrimSpace(a.Body) != "" {
		w.emitWrapped(a.Body, w.pol.Scale.Body, WeightRegular, defaultTextColor)
	}
	w.emitImage(a.Image, 0.6)
}

func (w *walker) itemList(list *content.ItemList) {
	body := w.pol.Scale.Body
	for i, item := range list.Items {
		if i > 0 {
			w.y += w.lineHeight(w.pol.Scale.Caption) * 0.5
		}

		// 名称与价格必须同页同行。
		lh := w.lineHeight(body)
		w.ensure(lh)
		w.ops = append(w.ops, TextOp{
			X: w.x0, Y: w.y, W: w.boxWidth() * 0.7,
			FontSize: body, Weight: WeightBold, Color: defaultTextColor, Align: "L",
			Content: item.Name,
		})
		if item.Price != "" {
			priceW := textWidth(item.Price, body)
			w.ops = append(w.ops, TextOp{
				X: w.x1 - priceW, Y: w.y, W: priceW,
				FontSize: body, Weight: WeightBold, Color: w.primary(), Align: "R",
				Content: item.Price,
			})
		}
		w.y += lh

		if strings.TrimSpace(item.Description) != "" {
			w.emitWrapped(item.Description, w.pol.Scale.Caption, WeightRegular, w.secondary())
		}
		w.emitImage(item.Image, 0.35)
	}
}

func (w *walker) priceTable(table *content.PriceTable) {
	body := w.pol.Scale.Body
	caption := w.pol.Scale.Caption
	for _, row := range table.Rows {
		blockH := w.pol.RowHeight
		note := strings.TrimSpace(row.Note)
		if note != "" {
			blockH += w.lineHeight(caption)
		}
		// 一行是原子块：标签、价格与备注永远同页。
		w.ensure(blockH)

		textY := w.y + (w.pol.RowHeight-body)/2
		w.ops = append(w.ops, TextOp{
			X: w.x0, Y: textY, W: w.boxWidth() * 0.6,
			FontSize: body, Weight: WeightRegular, Color: defaultTextColor, Align: "L",
			Content: row.Label,
		})
		priceW := textWidth(row.Price, body)
		w.ops = append(w.ops, TextOp{
			X: w.x1 - priceW, Y: textY, W: priceW,
			FontSize: body, Weight: WeightBold, Color: w.primary(), Align: "R",
			Content: row.Price,
		})
		if note != "" {
			w.ops = append(w.ops, TextOp{
				X: w.x0, Y: w.y + w.pol.RowHeight, W: w.boxWidth(),
				FontSize: caption, Weight: WeightRegular, Color: w.secondary(), Align: "L",
				Content: note,
			})
		}
		w.y += blockH
		w.ops = append(w.ops, LineOp{
			X1: w.x0, Y1: w.y, X2: w.x1, Y2: w.y,
			Color: defaultRuleColor, Width: 0.5,
		})
	}
}

func (w *walker) gallery(g *content.Gallery) {
	for _, img := range g.Images {
		w.emitImage(img, 0.6)
	}
}

func (w *walker) testimonials(t *content.Testimonials) {
	body := w.pol.Scale.Body
	caption := w.pol.Scale.Caption
	for i, entry := range t.Entries {
		if i > 0 {
			w.y += w.lineHeight(caption) * 0.5
		}

		lines := wrapText("“"+entry.Text+"”", w.boxWidth(), body)
		blockH := float64(len(lines))*w.lineHeight(body) + w.lineHeight(caption)

		// 整块放置；只有当块本身高于整个内容区时才退化为逐行排布。
		if blockH <= w.boxHeight() {
			w.ensure(blockH)
		}
		for _, line := range lines {
			w.emitLine(line, body, WeightRegular, defaultTextColor)
		}
		w.emitLine(attribution(entry), caption, WeightRegular, w.secondary())
	}
}

func attribution(entry content.Testimonial) string {
	rating := entry.Rating
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}
	stars := strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
	return "— " + entry.Author + "  " + stars
}

func (w *walker) contacts(c *content.Contacts) {
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch.Value) == "" {
			continue
		}
		w.emitLine(channelLabel(ch.Kind)+": "+ch.Value, w.pol.Scale.Body, WeightRegular, defaultTextColor)
	}
}

func channelLabel(kind content.ChannelKind) string {
	switch kind {
	case content.ChannelPhone:
		return "Tel"
	case content.ChannelEmail:
		return "Email"
	case content.ChannelSocial:
		return "Social"
	}
	return string(kind)
}
