package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EvaluationRun summarises one evaluation of the laboratory sources.
type EvaluationRun struct {
	ID          uuid.UUID
	EvaluatedAt time.Time
	LatestWeek  *time.Time
	Samples     int
	Dropped     int
	Alerting    int
	Failures    int
	CreatedAt   time.Time
}

// WeeklyPoint is one persisted weekly resistance percentage. ResistancePct is
// null when nothing was tested that week.
type WeeklyPoint struct {
	RunID          uuid.UUID
	Week           time.Time
	Antibiotic     string
	TotalTested    int
	ResistantCount int
	ResistancePct  decimal.NullDecimal
}

// AlertRecord captures an emitted control-limit alert for de-duplication/auditing.
type AlertRecord struct {
	ID         int64
	RunID      uuid.UUID
	Antibiotic string
	Month      time.Time
	LastValue  decimal.Decimal
	Mean       decimal.Decimal
	StdDev     decimal.Decimal
	Threshold  decimal.Decimal
	Channels   []string
	CreatedAt  time.Time
}
