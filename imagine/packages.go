package imagine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// ErrUnknownPackage is returned when a purchase names a package id that
// is not in the catalog.
var ErrUnknownPackage = errors.New("unknown package")

// Package is a purchasable credit bundle.
type Package struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Credits   float64 `json:"credits"`
	CostCents int64   `json:"cost_cents"`
	Currency  string  `json:"currency"`
}

// CreditAmount returns the bundle's credits as an Amount.
func (p Package) CreditAmount() credit.Amount {
	return credit.NewAmount(p.Credits)
}

// DefaultCatalog is the built-in store front. The order is the display
// order.
var DefaultCatalog = []Package{
	{ID: "credits_50", Label: "50 Credits", Credits: 50, CostCents: 499, Currency: "USD"},
	{ID: "credits_100", Label: "100 Credits", Credits: 100, CostCents: 899, Currency: "USD"},
	{ID: "credits_250", Label: "250 Credits", Credits: 250, CostCents: 1999, Currency: "USD"},
	{ID: "credits_500", Label: "500 Credits", Credits: 500, CostCents: 3499, Currency: "USD"},
}

// FindPackage looks a package up by id in the given catalog.
func FindPackage(catalog []Package, id string) (Package, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// ParseCatalog decodes a JSON catalog (used to override DefaultCatalog
// from configuration) and validates each entry.
func ParseCatalog(data []byte) ([]Package, error) {
	var catalog []Package
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range catalog {
		if p.ID == "" {
			return nil, fmt.Errorf("parse catalog: package %d has no id", i)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("parse catalog: package %q has non-positive credits", p.ID)
		}
		if p.CostCents <= 0 {
			return nil, fmt.Errorf("parse catalog: package %q has non-positive cost", p.ID)
		}
		if p.Currency == "" {
			catalog[i].Currency = "USD"
		}
	}
	return catalog, nil
}
