package template

import "testing"

func TestLookupKnownTemplates(t *testing.T) {
	if p := Lookup("sidebar"); p.ID != Sidebar || p.SidebarWidth == 0 {
		t.Fatalf("sidebar policy: %+v", p)
	}
	if p := Lookup("banner"); p.ID != Banner || p.BandHeight == 0 {
		t.Fatalf("banner policy: %+v", p)
	}
}

func TestLookupUnknownFallsBackToClassic(t *testing.T) {
	for _, id := range []string{"", "SIDEBAR", "fancy-new-template"} {
		if p := Lookup(id); p.ID != Classic {
			t.Fatalf("Lookup(%q) = %v, want classic fallback", id, p.ID)
		}
	}
}
