package content

import (
	"fmt"
	"strings"
)

// IsEmpty reports whether the section would contribute no visible
// content at all. Empty sections emit no draw ops and consume no
// vertical space during layout.
func (s Section) IsEmpty() bool {
	switch s.Kind {
	case KindCover:
		return s.Cover == nil || s.Cover.Image.Empty()
	case KindAbout:
		if s.About == nil {
			return true
		}
		return strings.TrimSpace(s.About.Heading) == "" &&
			strings.TrimSpace(s.About.Body) == "" &&
			s.About.Image.Empty()
	case KindItemList:
		return s.ItemList == nil || len(s.ItemList.Items) == 0
	case KindPriceTable:
		return s.PriceTable == nil || len(s.PriceTable.Rows) == 0
	case KindGallery:
		if s.Gallery == nil {
			return true
		}
		for _, img := range s.Gallery.Images {
			if !img.Empty() {
				return false
			}
		}
		return true
	case KindTestimonials:
		return s.Testimonials == nil || len(s.Testimonials.Entries) == 0
	case KindContacts:
		return s.Contacts == nil || len(s.Contacts.Channels) == 0
	}
	return true
}

// Validate checks structural invariants: every list entry carries an id
// unique within its own list, and ratings stay in 1..5.
func (m *Model) Validate() error {
	for i, s := range m.Sections {
		switch s.Kind {
		case KindItemList:
			if s.ItemList == nil {
				continue
			}
			seen := make(map[string]struct{}, len(s.ItemList.Items))
			for _, it := range s.ItemList.Items {
				if err := checkID(seen, it.ID); err != nil {
					return fmt.Errorf("section %d item list: %w", i, err)
				}
			}
		case KindPriceTable:
			if s.PriceTable == nil {
				continue
			}
			seen := make(map[string]struct{}, len(s.PriceTable.Rows))
			for _, row := range s.PriceTable.Rows {
				if err := checkID(seen, row.ID); err != nil {
					return fmt.Errorf("section %d price table: %w", i, err)
				}
			}
		case KindTestimonials:
			if s.Testimonials == nil {
				continue
			}
			seen := make(map[string]struct{}, len(s.Testimonials.Entries))
			for _, entry := range s.Testimonials.Entries {
				if err := checkID(seen, entry.ID); err != nil {
					return fmt.Errorf("section %d testimonials: %w", i, err)
				}
				if entry.Rating < 1 || entry.Rating > 5 {
					return fmt.Errorf("section %d testimonials: rating %d out of range for %q", i, entry.Rating, entry.ID)
				}
			}
		}
	}
	return nil
}

func checkID(seen map[string]struct{}, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("entry id is empty")
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("duplicate entry id %q", id)
	}
	seen[id] = struct{}{}
	return nil
}
