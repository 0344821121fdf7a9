package content

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateDuplicateIDs(t *testing.T) {
	m := &Model{
		Sections: []Section{
			{Kind: KindItemList, ItemList: &ItemList{Items: []Item{
				{ID: "a", Name: "one"},
				{ID: "a", Name: "two"},
			}}},
		},
	}
	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidateRatingRange(t *testing.T) {
	m := &Model{
		Sections: []Section{
			{Kind: KindTestimonials, Testimonials: &Testimonials{Entries: []Testimonial{
				{ID: "t1", Author: "A", Rating: 6},
			}}},
		},
	}
	if err := m.Validate(); err == nil {
		t.Fatal("expected rating range error")
	}
}

func TestValidateAcceptsDistinctIDsAcrossSections(t *testing.T) {
	// IDs only need to be unique within their own list.
	m := &Model{
		Sections: []Section{
			{Kind: KindItemList, ItemList: &ItemList{Items: []Item{{ID: "x", Name: "n"}}}},
			{Kind: KindPriceTable, PriceTable: &PriceTable{Rows: []PriceRow{{ID: "x", Label: "l", Price: "1"}}}},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSectionIsEmpty(t *testing.T) {
	cases := []struct {
		name    string
		section Section
		empty   bool
	}{
		{"nil variant", Section{Kind: KindAbout}, true},
		{"blank about", Section{Kind: KindAbout, About: &About{Heading: " ", Body: "\n"}}, true},
		{"about with body", Section{Kind: KindAbout, About: &About{Body: "hi"}}, false},
		{"gallery of empty refs", Section{Kind: KindGallery, Gallery: &Gallery{Images: []ImageRef{{}, {}}}}, true},
		{"gallery with url", Section{Kind: KindGallery, Gallery: &Gallery{Images: []ImageRef{{URL: "a.png"}}}}, false},
		{"cover without image", Section{Kind: KindCover, Cover: &Cover{}}, true},
		{"empty table", Section{Kind: KindPriceTable, PriceTable: &PriceTable{}}, true},
	}
	for _, tc := range cases {
		if got := tc.section.IsEmpty(); got != tc.empty {
			t.Errorf("%s: IsEmpty() = %v, want %v", tc.name, got, tc.empty)
		}
	}
}

func TestModelRoundTripsJSON(t *testing.T) {
	m := &Model{
		Title: "Doc",
		Theme: Theme{PrimaryColor: "#111", TemplateID: "sidebar"},
		Sections: []Section{
			{Kind: KindContacts, Contacts: &Contacts{Channels: []Channel{{Kind: ChannelEmail, Value: "a@b.c"}}}},
		},
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Model
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Sections[0].Kind != KindContacts || back.Sections[0].Contacts == nil {
		t.Fatalf("variant lost in round trip: %+v", back.Sections[0])
	}
}
