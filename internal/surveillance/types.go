// Package surveillance turns per-sample susceptibility results into the
// resistance metrics reviewed by the infection-control team: weekly resistance
// rates, control-limit alerts over the monthly series, trend classification
// and pairwise co-resistance.
//
// Every function in this package is a pure transform over its arguments. No
// state survives between calls and nothing here logs or performs I/O.
package surveillance

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyInput indicates a metric had no usable rows to work on.
	ErrEmptyInput = errors.New("surveillance: empty input")
	// ErrMissingColumn indicates an expected antibiotic (or key) column is absent from a source.
	ErrMissingColumn = errors.New("surveillance: missing column")
	// ErrEmptyPanel indicates no antibiotic was configured for tracking.
	ErrEmptyPanel = errors.New("surveillance: antibiotic panel is empty")
)

// Antibiotic names a tracked antibiotic exactly as it appears in source headers.
type Antibiotic string

// Result is the categorical outcome of one susceptibility test.
type Result int

const (
	// Missing covers blank, indeterminate and non-categorical cells.
	Missing Result = iota
	Susceptible
	Resistant
)

func (r Result) String() string {
	switch r {
	case Resistant:
		return "R"
	case Susceptible:
		return "S"
	default:
		return ""
	}
}

// Tested reports whether the result counts towards a denominator.
func (r Result) Tested() bool {
	return r == Resistant || r == Susceptible
}

// ParseResult maps a raw cell to a Result. The second return value is false
// when the cell held something other than a known category or missing sentinel.
func ParseResult(raw string) (Result, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "R":
		return Resistant, true
	case "S":
		return Susceptible, true
	case "", "I", "NA", "N/A", "NAN", "-", "ND":
		return Missing, true
	default:
		return Missing, false
	}
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// SampleRecord is one normalized laboratory test event.
type SampleRecord struct {
	SampleID       string                `json:"sample_id"`
	SamplingDate   time.Time             `json:"sampling_date"`
	Week           time.Time             `json:"week"`
	RequestingUnit string                `json:"requesting_unit"`
	PatientID      string                `json:"patient_id"`
	Results        map[Antibiotic]Result `json:"-"`
}

// Result returns the outcome for a; antibiotics without a cell are Missing.
func (s SampleRecord) Result(a Antibiotic) Result {
	return s.Results[a]
}

// Panel is the fixed, ordered set of tracked antibiotics.
type Panel struct {
	antibiotics []Antibiotic
	index       map[Antibiotic]int
}

// NewPanel builds a panel from names, trimming blanks and dropping duplicates
// while keeping first-seen order.
func NewPanel(names ...string) (Panel, error) {
	p := Panel{index: make(map[Antibiotic]int, len(names))}
	for _, name := range names {
		a := Antibiotic(strings.TrimSpace(name))
		if a == "" {
			continue
		}
		if _, dup := p.index[a]; dup {
			continue
		}
		p.index[a] = len(p.antibiotics)
		p.antibiotics = append(p.antibiotics, a)
	}
	if len(p.antibiotics) == 0 {
		return Panel{}, ErrEmptyPanel
	}
	return p, nil
}

// Antibiotics returns a copy of the panel in configured order.
func (p Panel) Antibiotics() []Antibiotic {
	out := make([]Antibiotic, len(p.antibiotics))
	copy(out, p.antibiotics)
	return out
}

// Len returns the number of tracked antibiotics.
func (p Panel) Len() int { return len(p.antibiotics) }

// Contains reports whether a is tracked.
func (p Panel) Contains(a Antibiotic) bool {
	_, ok := p.index[a]
	return ok
}

// Subset keeps the names that belong to the panel, in the order given, and
// returns the rejected ones separately. An empty selection means the whole panel.
// A selection whose names are all rejected yields an empty, non-nil slice.
func (p Panel) Subset(names []string) ([]Antibiotic, []string) {
	if len(names) == 0 {
		return p.Antibiotics(), nil
	}
	var (
		kept     = make([]Antibiotic, 0, len(names))
		rejected []string
		seen     = make(map[Antibiotic]struct{}, len(names))
	)
	for _, name := range names {
		a := Antibiotic(strings.TrimSpace(name))
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if !p.Contains(a) {
			rejected = append(rejected, name)
			continue
		}
		kept = append(kept, a)
	}
	return kept, rejected
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
