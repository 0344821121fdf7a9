package entitlement

import "testing"

func TestTierWatermarked(t *testing.T) {
	cases := []struct {
		tier Tier
		want bool
	}{
		{TierFree, true},
		{TierPro, false},
		{TierBusiness, false},
		{Tier(""), true},
		{Tier("enterprise"), true},
	}
	for _, tc := range cases {
		if got := tc.tier.Watermarked(); got != tc.want {
			t.Errorf("Tier(%q).Watermarked() = %v, want %v", tc.tier, got, tc.want)
		}
	}
}
