package maintenance

import (
	"math"
	"sort"
	"strings"
	"time"

	"solar-estimator/internal/apperrors"
)

type Category string

const (
	Routine    Category = "routine"
	Preventive Category = "preventive"
	Critical   Category = "critical"
)

type Impact string

const (
	Low    Impact = "low"
	Medium Impact = "medium"
	High   Impact = "high"
)

// Interval is one row of the service policy: a category of work scheduled a
// fixed number of days after installation.
type Interval struct {
	Category   Category      `mapstructure:"category" json:"category"`
	OffsetDays int           `mapstructure:"offset_days" json:"offset_days"`
	Duration   time.Duration `mapstructure:"duration" json:"duration"`
	Impact     Impact        `mapstructure:"impact" json:"impact"`
}

type Table []Interval

// DefaultTable is the service policy used when none is configured.
var DefaultTable = Table{
	{Category: Routine, OffsetDays: 3, Duration: 4 * time.Hour, Impact: Low},
	{Category: Preventive, OffsetDays: 8, Duration: 8 * time.Hour, Impact: Medium},
	{Category: Critical, OffsetDays: 15, Duration: 24 * time.Hour, Impact: High},
}

func (t Table) Validate() error {
	if len(t) == 0 {
		return apperrors.Invalid("intervals", "table is empty")
	}
	seen := make(map[int]Category, len(t))
	for _, iv := range t {
		switch Category(strings.ToLower(string(iv.Category))) {
		case Routine, Preventive, Critical:
		default:
			return apperrors.Invalid("category", "unknown category %q", iv.Category)
		}
		switch Impact(strings.ToLower(string(iv.Impact))) {
		case Low, Medium, High:
		default:
			return apperrors.Invalid("impact", "unknown impact %q", iv.Impact)
		}
		if iv.OffsetDays < 0 {
			return apperrors.Invalid("offset_days", "%s offset %d is negative", iv.Category, iv.OffsetDays)
		}
		if iv.Duration <= 0 {
			return apperrors.Invalid("duration", "%s duration must be positive", iv.Category)
		}
		if other, dup := seen[iv.OffsetDays]; dup {
			return apperrors.Invalid("offset_days", "%s and %s share offset %d", other, iv.Category, iv.OffsetDays)
		}
		seen[iv.OffsetDays] = iv.Category
	}
	return nil
}

type Event struct {
	Date     time.Time     `json:"date"`
	Category Category      `json:"category"`
	Duration time.Duration `json:"duration"`
	Impact   Impact        `json:"impact"`
}

// Schedule lays the table out from the install date. Events fall at midnight
// of the install day plus each offset, in the install date's location, and
// are returned in strictly increasing order.
func Schedule(installDate time.Time, table Table) ([]Event, error) {
	if installDate.IsZero() {
		return nil, apperrors.Invalid("install_date", "is required")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	day := midnight(installDate)
	events := make([]Event, len(table))
	for i, iv := range table {
		events[i] = Event{
			Date:     day.AddDate(0, 0, iv.OffsetDays),
			Category: Category(strings.ToLower(string(iv.Category))),
			Duration: iv.Duration,
			Impact:   Impact(strings.ToLower(string(iv.Impact))),
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, nil
}

// DaysUntilNext counts whole days from ref to the first event on or after
// ref's day. It reports false when every event is in the past.
func DaysUntilNext(events []Event, ref time.Time) (int, bool) {
	refDay := midnight(ref)
	for _, e := range events {
		if e.Date.Before(refDay) {
			continue
		}
		days := math.Ceil(e.Date.Sub(ref).Hours() / 24)
		return int(math.Max(0, days)), true
	}
	return 0, false
}

// Next returns the first event on or after ref's day.
func Next(events []Event, ref time.Time) (Event, bool) {
	refDay := midnight(ref)
	for _, e := range events {
		if !e.Date.Before(refDay) {
			return e, true
		}
	}
	return Event{}, false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
