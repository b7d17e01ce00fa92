package surveillance

// DefaultPhenotypes are the SCN phenotype categories reported weekly.
var DefaultPhenotypes = []string{"SRM", "SRV", "Wild", "Other"}

// PhenotypeWeek is one row of the weekly phenotype source.
type PhenotypeWeek struct {
	Week   string             `json:"week"`
	Counts map[string]float64 `json:"counts"`
}

// PhenotypeShare is the share of one category within one week.
type PhenotypeShare struct {
	Week     string  `json:"week"`
	Category string  `json:"category"`
	Count    float64 `json:"count"`
	Total    float64 `json:"total"`
	Pct      float64 `json:"pct"`
}

// Defined reports whether the week had any isolate at all.
func (s PhenotypeShare) Defined() bool {
	return s.Total > 0
}

// PhenotypeShares expands each week into one share per category, keeping the
// source week order. Negative or non-finite counts are treated as zero.
func PhenotypeShares(weeks []PhenotypeWeek, categories []string) []PhenotypeShare {
	out := make([]PhenotypeShare, 0, len(weeks)*len(categories))
	for _, w := range weeks {
		var total float64
		counts := make([]float64, len(categories))
		for i, c := range categories {
			v := w.Counts[c]
			if !finite(v) || v < 0 {
				v = 0
			}
			counts[i] = v
			total += v
		}
		for i, c := range categories {
			share := PhenotypeShare{Week: w.Week, Category: c, Count: counts[i], Total: total}
			if total > 0 {
				share.Pct = counts[i] / total * 100
			}
			out = append(out, share)
		}
	}
	return out
}
