package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is a named choice of source dataset. ExpectedCount is used only for
// post-load verification, never enforced during load. The published datasets
// drift over time, so the count can be overridden via configuration.
type Variant struct {
	Name          string
	URL           string
	ExpectedCount int64
}

const datasetBase = "https://sunmanapp.blob.core.windows.net/publicstuff/properties"

var variants = map[string]Variant{
	"full": {
		Name:          "full",
		URL:           datasetBase + "/properties.json",
		ExpectedCount: 41769,
	},
	"medium": {
		Name:          "medium",
		URL:           datasetBase + "/properties-10k.json",
		ExpectedCount: 10000,
	},
	"small": {
		Name:          "small",
		URL:           datasetBase + "/properties-5k.json",
		ExpectedCount: 5000,
	},
	"tiny": {
		Name:          "tiny",
		URL:           datasetBase + "/properties-500.json",
		ExpectedCount: 500,
	},
}

// Lookup resolves a variant by name (case-insensitive).
func Lookup(name string) (Variant, error) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("unknown dataset variant %q (have: %s)", name, strings.Join(Names(), ", "))
	}
	return v, nil
}

// Names lists the known variant names in stable order.
func Names() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
