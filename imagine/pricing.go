/*
Package imagine holds the product-level billing rules for the image
generation service: per-model pricing, purchasable credit packages, and
the billing flow that charges, refunds, and credits accounts through the
credit engine.

The credit engine (package credit) knows nothing about models or
packages; everything product-specific lives here.
*/
package imagine

import (
	"sort"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// DefaultModel is assigned to new accounts that never picked one.
const DefaultModel = "fal-ai/fast-sdxl"

// DefaultCost applies to any model missing from the pricing table, so an
// unknown model is charged conservatively rather than free.
var DefaultCost = credit.NewAmount(0.05)

// pricingTable maps model id to credits per generation.
var pricingTable = map[string]credit.Amount{
	"fal-ai/fast-sdxl":                  credit.NewAmount(0.005),
	"fal-ai/flux/dev":                   credit.NewAmount(0.03),
	"fal-ai/flux/schnell":               credit.NewAmount(0.01),
	"fal-ai/flux-realism":               credit.NewAmount(0.03),
	"fal-ai/recraft/v3/text-to-image":   credit.NewAmount(0.04),
	"fal-ai/fooocus":                    credit.NewAmount(0.01),
	"fal-ai/stable-diffusion-v3-medium": credit.NewAmount(0.03),
	"fal-ai/aura-flow":                  credit.NewAmount(0.02),
	"fal-ai/ideogram/v2":                credit.NewAmount(0.05),
	"fal-ai/nano-banana-pro":            credit.NewAmount(0.02),

	// Image-to-image variants.
	"fal-ai/flux/dev/image-to-image": credit.NewAmount(0.04),
	"fal-ai/flux/schnell/redux":      credit.NewAmount(0.015),
	"fal-ai/flux/dev/redux":          credit.NewAmount(0.035),
	"fal-ai/flux-pro/v1/redux":       credit.NewAmount(0.06),

	// Video models.
	"fal-ai/minimax-video/image-to-video":           credit.NewAmount(0.50),
	"fal-ai/kling-video/v1/standard/image-to-video": credit.NewAmount(0.50),
	"fal-ai/runway-gen3/turbo/image-to-video":       credit.NewAmount(0.50),
}

// EstimateCost returns the credit cost of one generation with modelID.
// Unknown models cost DefaultCost.
func EstimateCost(modelID string) credit.Amount {
	if cost, ok := pricingTable[modelID]; ok {
		return cost
	}
	return DefaultCost
}

// KnownModel reports whether modelID has an explicit price.
func KnownModel(modelID string) bool {
	_, ok := pricingTable[modelID]
	return ok
}

// Models returns all priced model ids, sorted.
func Models() []string {
	out := make([]string, 0, len(pricingTable))
	for id := range pricingTable {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
