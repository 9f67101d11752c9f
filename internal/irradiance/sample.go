package irradiance

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"solar-estimator/internal/apperrors"
	"solar-estimator/internal/site"
)

// MaxSamples bounds the length of a single resolved sequence.
const MaxSamples = 1 << 16

type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Month Granularity = "month"
)

// ParseGranularity accepts the canonical names plus the common adjectives
// ("hourly", "daily", "monthly").
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hour", "hourly", "h":
		return Hour, nil
	case "day", "daily", "d":
		return Day, nil
	case "month", "monthly", "m":
		return Month, nil
	}
	return "", apperrors.Invalid("granularity", "unknown granularity %q", s)
}

// Sample is the solar energy received per square metre of panel over one
// period starting at Timestamp.
type Sample struct {
	Timestamp   time.Time   `json:"timestamp"`
	Irradiance  float64     `json:"irradiance_kwh_m2"`
	Granularity Granularity `json:"granularity"`
}

// Hours is the length of the period the sample covers. Month samples span
// the calendar month of Timestamp.
func (s Sample) Hours() float64 {
	switch s.Granularity {
	case Day:
		return 24
	case Month:
		return 24 * float64(daysIn(s.Timestamp.Year(), s.Timestamp.Month()))
	default:
		return 1
	}
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DayWindow covers the calendar day containing t in loc.
func DayWindow(t time.Time, loc *time.Location) Window {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// YearWindow covers the calendar year in loc.
func YearWindow(year int, loc *time.Location) Window {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return apperrors.Invalid("window", "start and end are required")
	}
	if !w.End.After(w.Start) {
		return apperrors.Invalid("window", "end %s is not after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Duration of the window.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

const dateLayout = "2006-01-02"

// ParseTime accepts a YYYY-MM-DD date, taken as midnight in loc, or an
// RFC 3339 timestamp.
func ParseTime(field, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, apperrors.Invalid(field, "expected YYYY-MM-DD or RFC 3339, got %q", value)
}

// ParseWindow builds a window from user text. Start and end go together and
// a date-only end is inclusive. Otherwise the window is the local day of date,
// or of now when date is empty.
func ParseWindow(date, start, end string, loc *time.Location, now time.Time) (Window, error) {
	var w Window
	switch {
	case start != "" && end != "":
		from, err := ParseTime("start", start, loc)
		if err != nil {
			return Window{}, err
		}
		to, err := ParseTime("end", end, loc)
		if err != nil {
			return Window{}, err
		}
		if _, err := time.Parse(dateLayout, strings.TrimSpace(end)); err == nil {
			to = to.AddDate(0, 0, 1)
		}
		w = Window{Start: from, End: to}
	case start != "" || end != "":
		return Window{}, apperrors.Invalid("window", "start and end must be given together")
	case date != "":
		day, err := ParseTime("date", date, loc)
		if err != nil {
			return Window{}, err
		}
		w = DayWindow(day, loc)
	default:
		w = DayWindow(now, loc)
	}

	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Timeline enumerates the sample timestamps of a window at one granularity.
// Timestamps start at the window start in the site's time zone and advance
// by one period while before the window end.
type Timeline struct {
	start time.Time
	g     Granularity
	n     int
}

func NewTimeline(w Window, g Granularity, loc *time.Location) (Timeline, error) {
	if err := w.Validate(); err != nil {
		return Timeline{}, err
	}
	g, err := ParseGranularity(string(g))
	if err != nil {
		return Timeline{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	t := Timeline{start: w.Start.In(loc), g: g}
	switch g {
	case Hour:
		t.n = int(math.Ceil(float64(w.Duration()) / float64(time.Hour)))
	default:
		for t.n <= MaxSamples && t.At(t.n).Before(w.End) {
			t.n++
		}
	}
	if t.n > MaxSamples {
		return Timeline{}, apperrors.Invalid("window", "window yields more than %d %s samples", MaxSamples, g)
	}
	return t, nil
}

func (t Timeline) Len() int { return t.n }

func (t Timeline) Granularity() Granularity { return t.g }

// At returns the i-th timestamp. Month steps keep the start's day of month,
// clamped to the length of shorter months. A month sample covers the whole
// calendar month containing its timestamp, even when that is mid-month.
func (t Timeline) At(i int) time.Time {
	switch t.g {
	case Hour:
		return t.start.Add(time.Duration(i) * time.Hour)
	case Day:
		return t.start.AddDate(0, 0, i)
	default:
		s := t.start
		first := time.Date(s.Year(), s.Month()+time.Month(i), 1, s.Hour(), s.Minute(), s.Second(), s.Nanosecond(), s.Location())
		day := min(s.Day(), daysIn(first.Year(), first.Month()))
		return first.AddDate(0, 0, day-1)
	}
}

// Sequence is a finite, ordered, restartable run of samples. Samples are
// produced on demand, so iterating twice yields identical values.
type Sequence struct {
	n  int
	at func(i int) Sample
}

func NewSequence(n int, at func(i int) Sample) Sequence {
	return Sequence{n: n, at: at}
}

// FromSlice wraps already materialized samples.
func FromSlice(samples []Sample) Sequence {
	cp := append([]Sample(nil), samples...)
	return Sequence{n: len(cp), at: func(i int) Sample { return cp[i] }}
}

func (s Sequence) Len() int { return s.n }

func (s Sequence) At(i int) Sample {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("irradiance: sample index %d out of range [0,%d)", i, s.n))
	}
	return s.at(i)
}

func (s Sequence) All() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for i := 0; i < s.n; i++ {
			if !yield(s.at(i)) {
				return
			}
		}
	}
}

func (s Sequence) Collect() []Sample {
	out := make([]Sample, 0, s.n)
	for sample := range s.All() {
		out = append(out, sample)
	}
	return out
}

// Source produces irradiance samples for a site. Implementations are
// interchangeable; callers only depend on this interface.
type Source interface {
	Name() string
	Resolve(ctx context.Context, s site.Site, w Window, g Granularity) (Sequence, error)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
