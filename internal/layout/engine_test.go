package layout

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"testing"

	"pagepress/internal/content"
)

func testGeometry() Geometry {
	return Geometry{PageW: 595.28, PageH: 841.89, Margin: 48}
}

func aboutSection(heading, body string) content.Section {
	return content.Section{
		Kind:  content.KindAbout,
		About: &content.About{Heading: heading, Body: body},
	}
}

func priceTableSection(rows int) content.Section {
	table := &content.PriceTable{}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, content.PriceRow{
			ID:    "row-" + strconv.Itoa(i),
			Label: "Position " + strconv.Itoa(i),
			Price: "$" + strconv.Itoa((i+1)*10) + ".00",
		})
	}
	return content.Section{Kind: content.KindPriceTable, PriceTable: table}
}

func TestPaginateInvalidGeometry(t *testing.T) {
	cases := []Geometry{
		{PageW: 0, PageH: 800, Margin: 40},
		{PageW: 600, PageH: -1, Margin: 40},
		{PageW: 600, PageH: 800, Margin: 0},
		{PageW: 100, PageH: 800, Margin: 50},
	}
	m := &content.Model{Title: "x"}
	for i, geom := range cases {
		if _, err := Paginate(m, geom); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("case %d: expected ErrInvalidGeometry, got %v", i, err)
		}
	}
}

func TestPaginateDeterministic(t *testing.T) {
	m := &content.Model{
		Title: "Autumn Catalog",
		Theme: content.Theme{TemplateID: "sidebar", PrimaryColor: "#123456"},
		Sections: []content.Section{
			aboutSection("About us", "We make things. Lots of things, actually, described at length so the body wraps over several lines of output."),
			priceTableSection(10),
		},
	}

	first, err := Paginate(m, testGeometry())
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	second, err := Paginate(m, testGeometry())
	if err != nil {
		t.Fatalf("paginate again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs produced different layouts")
	}
}

func TestPaginateOpsStayOnPage(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "A fairly long sentence that keeps the word wrapper busy. "
	}
	m := &content.Model{
		Title: "Bounds",
		Theme: content.Theme{TemplateID: "banner"},
		Sections: []content.Section{
			aboutSection("Heading", long),
			priceTableSection(40),
			{Kind: content.KindTestimonials, Testimonials: &content.Testimonials{Entries: []content.Testimonial{
				{ID: "t1", Author: "Ada", Text: long[:400], Rating: 5},
			}}},
		},
	}

	geom := testGeometry()
	pl, err := Paginate(m, geom)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(pl.Pages) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(pl.Pages))
	}
	for _, page := range pl.Pages {
		for _, op := range page.Ops {
			x0, y0, x1, y1 := op.Bounds()
			if x0 < 0 || y0 < 0 || x1 > geom.PageW+0.01 || y1 > geom.PageH+0.01 {
				t.Fatalf("page %d: op %#v out of bounds (%.1f,%.1f)-(%.1f,%.1f)", page.Index, op, x0, y0, x1, y1)
			}
		}
	}
}

func TestPaginatePagesAreOneIndexed(t *testing.T) {
	m := &content.Model{Title: "T", Sections: []content.Section{priceTableSection(80)}}
	pl, err := Paginate(m, testGeometry())
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	for i, page := range pl.Pages {
		if page.Index != i+1 {
			t.Fatalf("page at position %d has index %d", i, page.Index)
		}
	}
}

func TestPriceRowNeverSplits(t *testing.T) {
	m := &content.Model{Title: "Rows", Sections: []content.Section{priceTableSection(120)}}
	pl, err := Paginate(m, testGeometry())
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}

	// 标签与价格同属一行，必须出现在同一页、同一 Y。
	labelPage := map[string]int{}
	pricePage := map[string]int{}
	labelY := map[string]float64{}
	priceY := map[string]float64{}
	for _, page := range pl.Pages {
		for _, op := range page.Ops {
			text, ok := op.(TextOp)
			if !ok {
				continue
			}
			switch text.Align {
			case "L":
				labelPage[text.Content] = page.Index
				labelY[text.Content] = text.Y
			case "R":
				pricePage[text.Content] = page.Index
				priceY[text.Content] = text.Y
			}
		}
	}
	for i := 0; i < 120; i++ {
		label := "Position " + strconv.Itoa(i)
		price := "$" + strconv.Itoa((i+1)*10) + ".00"
		if labelPage[label] == 0 || pricePage[price] == 0 {
			t.Fatalf("row %d missing ops", i)
		}
		if labelPage[label] != pricePage[price] {
			t.Fatalf("row %d split across pages %d/%d", i, labelPage[label], pricePage[price])
		}
		if labelY[label] != priceY[price] {
			t.Fatalf("row %d label and price on different baselines", i)
		}
	}
}

func TestPriceTableOverflowExample(t *testing.T) {
	// Geometry sized so exactly 40 rows fit per page: 50 rows must
	// produce two pages with rows 0..39 whole on page one.
	pol := priceTableSection(50)
	rowHeight := 22.0
	margin := 50.0
	geom := Geometry{PageW: 595.28, PageH: margin*2 + rowHeight*40, Margin: margin}

	m := &content.Model{Sections: []content.Section{pol}}
	pl, err := Paginate(m, geom)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(pl.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pl.Pages))
	}

	rowsOn := func(page Page) map[string]bool {
		rows := map[string]bool{}
		for _, op := range page.Ops {
			if text, ok := op.(TextOp); ok && text.Align == "L" {
				rows[text.Content] = true
			}
		}
		return rows
	}
	first := rowsOn(pl.Pages[0])
	second := rowsOn(pl.Pages[1])
	if !first["Position 39"] {
		t.Fatal("row 40 should sit fully on page 1")
	}
	if first["Position 40"] || !second["Position 40"] {
		t.Fatal("row 41 should open page 2")
	}
	if !second["Position 49"] {
		t.Fatal("last row missing from page 2")
	}
}

func TestEmptySectionsEmitNothing(t *testing.T) {
	base := &content.Model{Title: "Only title"}
	withEmpties := &content.Model{
		Title: "Only title",
		Sections: []content.Section{
			{Kind: content.KindItemList, ItemList: &content.ItemList{}},
			{Kind: content.KindGallery, Gallery: &content.Gallery{Images: []content.ImageRef{{}}}},
			{Kind: content.KindAbout, About: &content.About{Heading: "  ", Body: ""}},
			{Kind: content.KindContacts},
		},
	}

	plBase, err := Paginate(base, testGeometry())
	if err != nil {
		t.Fatalf("paginate base: %v", err)
	}
	plEmpties, err := Paginate(withEmpties, testGeometry())
	if err != nil {
		t.Fatalf("paginate with empties: %v", err)
	}
	if !reflect.DeepEqual(plBase, plEmpties) {
		t.Fatal("empty sections changed the layout")
	}
}

func TestChromeRepeatsOnEveryPage(t *testing.T) {
	m := &content.Model{
		Title: "Sidebar doc",
		Theme: content.Theme{TemplateID: "sidebar", PrimaryColor: "#0f172a"},
		Sections: []content.Section{
			priceTableSection(120),
		},
	}
	pl, err := Paginate(m, testGeometry())
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(pl.Pages) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(pl.Pages))
	}
	for _, page := range pl.Pages {
		rect, ok := page.Ops[0].(RectOp)
		if !ok {
			t.Fatalf("page %d: first op is %T, want sidebar RectOp", page.Index, page.Ops[0])
		}
		if rect.X != 0 || rect.W != 150 || rect.H != testGeometry().PageH {
			t.Fatalf("page %d: unexpected sidebar rect %#v", page.Index, rect)
		}
	}
}

func TestUnknownTemplateFallsBack(t *testing.T) {
	m := &content.Model{
		Title:    "Fallback",
		Theme:    content.Theme{TemplateID: "does-not-exist"},
		Sections: []content.Section{aboutSection("H", "B")},
	}
	if _, err := Paginate(m, testGeometry()); err != nil {
		t.Fatalf("unknown template must not fail: %v", err)
	}
}

func TestWrapTextHardSplitsLongWords(t *testing.T) {
	word := ""
	for i := 0; i < 200; i++ {
		word += "x"
	}
	lines := wrapText(word, 100, 11)
	if len(lines) < 2 {
		t.Fatalf("expected hard split, got %d lines", len(lines))
	}
	for i, line := range lines {
		if textWidth(line, 11) > 100 {
			t.Fatalf("line %d exceeds max width: %s", i, line)
		}
	}
}

func BenchmarkPaginate(b *testing.B) {
	sections := []content.Section{priceTableSection(200)}
	for i := 0; i < 10; i++ {
		sections = append(sections, aboutSection(fmt.Sprintf("Section %d", i), "Body text that wraps a little."))
	}
	m := &content.Model{Title: "Bench", Sections: sections}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Paginate(m, testGeometry()); err != nil {
			b.Fatal(err)
		}
	}
}
