package entitlement

import (
	"context"

	"github.com/jung-kurt/gofpdf"
)

// Tier 订阅档位。Free 档导出的分页文档带水印。
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Watermarked reports whether paged exports for this tier carry the
// watermark stamp. Unknown tiers are treated as free.
func (t Tier) Watermarked() bool {
	switch t {
	case TierPro, TierBusiness:
		return false
	}
	return true
}

// Source 提供配额与档位信息（外部协作方，实现不在本仓库内）。
type Source interface {
	Remaining(ctx context.Context, userID uint) (int, error)
	PlanTier(ctx context.Context, userID uint) (Tier, error)
}

const (
	watermarkText = "pagepress free"
	watermarkSize = 42.0
)

// Stamp 在文档当前页盖一枚对角水印，内容操作之后调用，保证水印在最上层。
// Paid tiers are a strict no-op: the document is untouched.
func Stamp(doc *gofpdf.Fpdf, pageW, pageH float64, tier Tier) {
	if !tier.Watermarked() {
		return
	}

	doc.SetFont("Helvetica", "B", watermarkSize)
	doc.SetTextColor(150, 150, 150)
	doc.SetAlpha(0.25, "Normal")
	doc.TransformBegin()
	doc.TransformRotate(35, pageW/2, pageH/2)
	width := doc.GetStringWidth(watermarkText)
	doc.Text(pageW/2-width/2, pageH/2, watermarkText)
	doc.TransformEnd()
	doc.SetAlpha(1, "Normal")
}
