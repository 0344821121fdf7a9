package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"

	"pagepress/internal/content"
)

// Slides 将内容模型序列化为 PPTX 字节：一张标题页，之后每个非空
// section 一张幻灯片。Slide granularity is per logical section and
// independent of page-break geometry; long lists intentionally
// overflow the slide's content region rather than spawn extra slides.
func Slides(m *content.Model) ([]byte, error) {
	slides := buildSlides(m)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeDeck(zw, slides); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close archive: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

type slideLine struct {
	Text string
	Bold bool
}

type slide struct {
	Title string
	Lines []slideLine
}

func buildSlides(m *content.Model) []slide {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = "Untitled"
	}
	deck := []slide{{Title: title}}

	for _, s := range m.Sections {
		if s.IsEmpty() {
			continue
		}
		deck = append(deck, sectionSlide(s))
	}
	return deck
}

func sectionSlide(s content.Section) slide {
	switch s.Kind {
	case content.KindCover:
		return slide{Title: "Cover", Lines: imageLines([]content.ImageRef{s.Cover.Image})}
	case content.KindAbout:
		sl := slide{Title: strings.TrimSpace(s.About.Heading)}
		if sl.Title == "" {
			sl.Title = "About"
		}
		for _, p := range strings.Split(s.About.Body, "\n") {
			if p = strings.TrimSpace(p); p != "" {
				sl.Lines = append(sl.Lines, slideLine{Text: p})
			}
		}
		return sl
	case content.KindItemList:
		sl := slide{Title: "Items"}
		for _, item := range s.ItemList.Items {
			head := item.Name
			if item.Price != "" {
				head += " — " + item.Price
			}
			sl.Lines = append(sl.Lines, slideLine{Text: head, Bold: true})
			if desc := strings.TrimSpace(item.Description); desc != "" {
				sl.Lines = append(sl.Lines, slideLine{Text: desc})
			}
		}
		return sl
	case content.KindPriceTable:
		sl := slide{Title: "Pricing"}
		for _, row := range s.PriceTable.Rows {
			sl.Lines = append(sl.Lines, slideLine{Text: row.Label + "\t" + row.Price, Bold: true})
			if note := strings.TrimSpace(row.Note); note != "" {
				sl.Lines = append(sl.Lines, slideLine{Text: note})
			}
		}
		return sl
	case content.KindGallery:
		return slide{Title: "Gallery", Lines: imageLines(s.Gallery.Images)}
	case content.KindTestimonials:
		sl := slide{Title: "Testimonials"}
		for _, entry := range s.Testimonials.Entries {
			sl.Lines = append(sl.Lines, slideLine{Text: "“" + entry.Text + "”"})
			sl.Lines = append(sl.Lines, slideLine{Text: attributionLine(entry), Bold: true})
		}
		return sl
	case content.KindContacts:
		sl := slide{Title: "Contact"}
		for _, ch := range s.Contacts.Channels {
			if v := strings.TrimSpace(ch.Value); v != "" {
				sl.Lines = append(sl.Lines, slideLine{Text: string(ch.Kind) + ": " + v})
			}
		}
		return sl
	}
	return slide{Title: "Section"}
}

func imageLines(refs []content.ImageRef) []slideLine {
	var lines []slideLine
	for _, ref := range refs {
		switch {
		case ref.URL != "":
			lines = append(lines, slideLine{Text: ref.URL})
		case len(ref.Data) > 0:
			lines = append(lines, slideLine{Text: "(embedded image)"})
		}
	}
	return lines
}

func attributionLine(entry content.Testimonial) string {
	rating := entry.Rating
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}
	return "— " + entry.Author + " (" + strings.Repeat("★", rating) + ")"
}

func writeDeck(zw *zip.Writer, slides []slide) error {
	static := map[string]string{
		"_rels/.rels":                                 rootRelsXML,
		"ppt/theme/theme1.xml":                        themeXML,
		"ppt/slideMasters/slideMaster1.xml":           slideMasterXML,
		"ppt/slideMasters/_rels/slideMaster1.xml.rels": slideMasterRelsXML,
		"ppt/slideLayouts/slideLayout1.xml":           slideLayoutXML,
		"ppt/slideLayouts/_rels/slideLayout1.xml.rels": slideLayoutRelsXML,
	}
	for name, body := range static {
		if err := writeZipEntry(zw, name, body); err != nil {
			return err
		}
	}

	if err := writeTemplated(zw, "[Content_Types].xml", contentTypesTmpl, slides); err != nil {
		return err
	}
	if err := writeTemplated(zw, "ppt/presentation.xml", presentationTmpl, slides); err != nil {
		return err
	}
	if err := writeTemplated(zw, "ppt/_rels/presentation.xml.rels", presentationRelsTmpl, slides); err != nil {
		return err
	}

	for i, s := range slides {
		name := fmt.Sprintf("ppt/slides/slide%d.xml", i+1)
		if err := writeTemplated(zw, name, slideTmpl, s); err != nil {
			return err
		}
		rels := fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", i+1)
		if err := writeZipEntry(zw, rels, slideRelsXML); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(zw *zip.Writer, name, body string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeTemplated(zw *zip.Writer, name string, tmpl *template.Template, data any) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var tmplFuncs = template.FuncMap{
	"esc": escapeXML,
	"inc": func(i int) int { return i + 1 },
	"sldID": func(i int) int { return 256 + i },
	"relID": func(i int) int { return 2 + i }, // rId1 is the slide master
}

var contentTypesTmpl = template.Must(template.New("contentTypes").Funcs(tmplFuncs).Parse(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>
<Override PartName="/ppt/slideMasters/slideMaster1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideMaster+xml"/>
<Override PartName="/ppt/slideLayouts/slideLayout1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slideLayout+xml"/>
<Override PartName="/ppt/theme/theme1.xml" ContentType="application/vnd.openxmlformats-officedocument.theme+xml"/>
{{- range $i, $s := . }}
<Override PartName="/ppt/slides/slide{{ inc $i }}.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>
{{- end }}
</Types>`))

var presentationTmpl = template.Must(template.New("presentation").Funcs(tmplFuncs).Parse(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>
<p:sldIdLst>
{{- range $i, $s := . }}
<p:sldId id="{{ sldID $i }}" r:id="rId{{ relID $i }}"/>
{{- end }}
</p:sldIdLst>
<p:sldSz cx="12192000" cy="6858000"/>
<p:notesSz cx="6858000" cy="9144000"/>
</p:presentation>`))

var presentationRelsTmpl = template.Must(template.New("presentationRels").Funcs(tmplFuncs).Parse(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>
{{- range $i, $s := . }}
<Relationship Id="rId{{ relID $i }}" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide{{ inc $i }}.xml"/>
{{- end }}
</Relationships>`))

var slideTmpl = template.Must(template.New("slide").Funcs(tmplFuncs).Parse(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr/>
<p:sp>
<p:nvSpPr><p:cNvPr id="2" name="Title"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="838200" y="365125"/><a:ext cx="10515600" cy="1325563"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr>
<p:txBody><a:bodyPr/><a:lstStyle/>
<a:p><a:r><a:rPr lang="en-US" sz="3600" b="1"/><a:t>{{ esc .Title }}</a:t></a:r></a:p>
</p:txBody>
</p:sp>
<p:sp>
<p:nvSpPr><p:cNvPr id="3" name="Content"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="838200" y="1825625"/><a:ext cx="10515600" cy="4351338"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr>
<p:txBody><a:bodyPr/><a:lstStyle/>
{{- range .Lines }}
<a:p><a:r><a:rPr lang="en-US" sz="1800"{{ if .Bold }} b="1"{{ end }}/><a:t>{{ esc .Text }}</a:t></a:r></a:p>
{{- else }}
<a:p><a:endParaRPr lang="en-US"/></a:p>
{{- end }}
</p:txBody>
</p:sp>
</p:spTree></p:cSld>
</p:sld>`))

const rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>
</Relationships>`

const slideRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
</Relationships>`

const slideMasterXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldMaster xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr/>
</p:spTree></p:cSld>
<p:clrMap bg1="lt1" tx1="dk1" bg2="lt2" tx2="dk2" accent1="accent1" accent2="accent2" accent3="accent3" accent4="accent4" accent5="accent5" accent6="accent6" hlink="hlink" folHlink="folHlink"/>
<p:sldLayoutIdLst><p:sldLayoutId id="2147483649" r:id="rId1"/></p:sldLayoutIdLst>
</p:sldMaster>`

const slideMasterRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/theme" Target="../theme/theme1.xml"/>
</Relationships>`

const slideLayoutXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldLayout xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" type="blank">
<p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr/>
</p:spTree></p:cSld>
<p:clrMapOvr><a:masterClrMapping/></p:clrMapOvr>
</p:sldLayout>`

const slideLayoutRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="../slideMasters/slideMaster1.xml"/>
</Relationships>`

const themeXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<a:theme xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" name="pagepress">
<a:themeElements>
<a:clrScheme name="pagepress">
<a:dk1><a:srgbClr val="1F2933"/></a:dk1><a:lt1><a:srgbClr val="FFFFFF"/></a:lt1>
<a:dk2><a:srgbClr val="3E4C59"/></a:dk2><a:lt2><a:srgbClr val="F5F7FA"/></a:lt2>
<a:accent1><a:srgbClr val="2563EB"/></a:accent1><a:accent2><a:srgbClr val="7C3AED"/></a:accent2>
<a:accent3><a:srgbClr val="059669"/></a:accent3><a:accent4><a:srgbClr val="D97706"/></a:accent4>
<a:accent5><a:srgbClr val="DC2626"/></a:accent5><a:accent6><a:srgbClr val="0891B2"/></a:accent6>
<a:hlink><a:srgbClr val="2563EB"/></a:hlink><a:folHlink><a:srgbClr val="7C3AED"/></a:folHlink>
</a:clrScheme>
<a:fontScheme name="pagepress">
<a:majorFont><a:latin typeface="Calibri"/><a:ea typeface=""/><a:cs typeface=""/></a:majorFont>
<a:minorFont><a:latin typeface="Calibri"/><a:ea typeface=""/><a:cs typeface=""/></a:minorFont>
</a:fontScheme>
<a:fmtScheme name="pagepress">
<a:fillStyleLst><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:fillStyleLst>
<a:lnStyleLst><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln><a:ln><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:ln></a:lnStyleLst>
<a:effectStyleLst><a:effectStyle><a:effectLst/></a:effectStyle><a:effectStyle><a:effectLst/></a:effectStyle><a:effectStyle><a:effectLst/></a:effectStyle></a:effectStyleLst>
<a:bgFillStyleLst><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill><a:solidFill><a:schemeClr val="phClr"/></a:solidFill></a:bgFillStyleLst>
</a:fmtScheme>
</a:themeElements>
</a:theme>`
