package layout

import "strings"

// 平均字形宽度系数（相对字号）。Deterministic approximation so the
// engine stays pure; the paged serializer uses real metrics only for
// right-aligned cells, where gofpdf measures internally.
const (
	latinGlyphFactor = 0.52
	wideGlyphFactor  = 1.0
)

// textWidth estimates the rendered width of s at the given font size.
func textWidth(s string, fontSize float64) float64 {
	var w float64
	for _, r := range s {
		if r >= 0x2E80 {
			// CJK and other full-width ranges
			w += wideGlyphFactor * fontSize
		} else {
			w += latinGlyphFactor * fontSize
		}
	}
	return w
}

// wrapText breaks s into lines no wider than maxWidth at the given
// font size. Words longer than a full line are split hard so a single
// token can never push content past the content box.
func wrapText(s string, maxWidth, fontSize float64) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var lines []string
	for _, paragraph := range strings.Split(s, "\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		lines = append(lines, wrapParagraph(paragraph, maxWidth, fontSize)...)
	}
	return lines
}

func wrapParagraph(p string, maxWidth, fontSize float64) []string {
	words := strings.Fields(p)
	var lines []string
	var current string

	flush := func() {
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
	}

	for _, word := range words {
		if textWidth(word, fontSize) > maxWidth {
			flush()
			lines = append(lines, splitLongWord(word, maxWidth, fontSize)...)
			continue
		}

		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if textWidth(candidate, fontSize) <= maxWidth {
			current = candidate
			continue
		}
		flush()
		current = word
	}
	flush()
	return lines
}

func splitLongWord(word string, maxWidth, fontSize float64) []string {
	var parts []string
	var current []rune
	var width float64

	for _, r := range word {
		rw := latinGlyphFactor * fontSize
		if r >= 0x2E80 {
			rw = wideGlyphFactor * fontSize
		}
		if width+rw > maxWidth && len(current) > 0 {
			parts = append(parts, string(current))
			current = current[:0]
			width = 0
		}
		current = append(current, r)
		width += rw
	}
	if len(current) > 0 {
		parts = append(parts, string(current))
	}
	return parts
}
