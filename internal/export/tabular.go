package export

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"pagepress/internal/content"
)

// Tabular 将内容模型导出为按区块分组的 CSV 文本。
// Only row-shaped sections participate (items, price table,
// testimonials, contacts); empty sections are omitted entirely and
// images are dropped silently. Quoting is left to encoding/csv so
// embedded delimiters survive.
func Tabular(m *content.Model) (string, error) {
	var sb strings.Builder

	for _, s := range m.Sections {
		if s.IsEmpty() {
			continue
		}
		var err error
		switch s.Kind {
		case content.KindItemList:
			err = writeBlock(&sb, "Items",
				[]string{"id", "name", "description", "price"},
				func(w *csv.Writer) error {
					for _, item := range s.ItemList.Items {
						if err := w.Write([]string{item.ID, item.Name, item.Description, item.Price}); err != nil {
							return err
						}
					}
					return nil
				})
		case content.KindPriceTable:
			err = writeBlock(&sb, "Pricing",
				[]string{"id", "label", "price", "note"},
				func(w *csv.Writer) error {
					for _, row := range s.PriceTable.Rows {
						if err := w.Write([]string{row.ID, row.Label, row.Price, row.Note}); err != nil {
							return err
						}
					}
					return nil
				})
		case content.KindTestimonials:
			err = writeBlock(&sb, "Testimonials",
				[]string{"id", "author", "text", "rating"},
				func(w *csv.Writer) error {
					for _, entry := range s.Testimonials.Entries {
						if err := w.Write([]string{entry.ID, entry.Author, entry.Text, strconv.Itoa(entry.Rating)}); err != nil {
							return err
						}
					}
					return nil
				})
		case content.KindContacts:
			err = writeBlock(&sb, "Contacts",
				[]string{"kind", "value"},
				func(w *csv.Writer) error {
					for _, ch := range s.Contacts.Channels {
						if err := w.Write([]string{string(ch.Kind), ch.Value}); err != nil {
							return err
						}
					}
					return nil
				})
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	}

	return sb.String(), nil
}

func writeBlock(sb *strings.Builder, label string, header []string, rows func(*csv.Writer) error) error {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("# " + label + "\n")

	w := csv.NewWriter(sb)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := rows(w); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
