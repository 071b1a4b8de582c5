// Package usage turns the completion-event log into rolling usage counters.
package usage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Window lengths. Months and years are fixed-length, not calendar-aligned.
const (
	HourSeconds  = 3600
	DaySeconds   = 24 * HourSeconds
	MonthSeconds = 30 * DaySeconds
	YearSeconds  = 365 * DaySeconds
)

// CompletionLog is the durable, bounded list of completion timestamps plus
// an all-time counter that survives truncation.
type CompletionLog interface {
	Append(ctx context.Context, t time.Time) error
	Load(ctx context.Context) ([]time.Time, int64, error)
}

type Report struct {
	AllTime         int64   `json:"allTime"`
	ThisHour        int     `json:"thisHour"`
	ThisDay         int     `json:"thisDay"`
	ThisMonth       int     `json:"thisMonth"`
	ThisYear        int     `json:"thisYear"`
	HourlyBreakdown [24]int `json:"hourlyBreakdown"`
}

// Summarize is a pure function of the completion list. A window counts
// completions with t > now-window; hour bucket i covers
// (now-(24-i)h, now-(23-i)h], oldest first.
func Summarize(completions []time.Time, allTime int64, now time.Time) Report {
	r := Report{AllTime: allTime}
	for _, t := range completions {
		age := now.Sub(t)
		if age < 0 {
			// clock skew between writers; count it as just now
			age = 0
		}
		secs := age.Seconds()
		if secs < HourSeconds {
			r.ThisHour++
		}
		if secs < DaySeconds {
			r.ThisDay++
		}
		if secs < MonthSeconds {
			r.ThisMonth++
		}
		if secs < YearSeconds {
			r.ThisYear++
		}

		// bucket i holds ages in [(23-i)h, (24-i)h)
		if secs < DaySeconds {
			i := 23 - int(age/time.Hour)
			r.HourlyBreakdown[i]++
		}
	}
	return r
}

type Aggregator struct {
	log CompletionLog
	now func() time.Time
}

func NewAggregator(l CompletionLog) *Aggregator {
	return &Aggregator{log: l, now: time.Now}
}

// RecordCompletion appends one completion event.
func (a *Aggregator) RecordCompletion(ctx context.Context, t time.Time) error {
	return a.log.Append(ctx, t)
}

func (a *Aggregator) Report(ctx context.Context) (Report, error) {
	return a.ReportAt(ctx, a.now())
}

func (a *Aggregator) ReportAt(ctx context.Context, now time.Time) (Report, error) {
	completions, total, err := a.log.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	if int64(len(completions)) > total {
		log.WithFields(log.Fields{
			"component": "usage",
			"entries":   len(completions),
			"all_time":  total,
		}).Warn("all-time counter behind completion log")
		total = int64(len(completions))
	}
	return Summarize(completions, total, now), nil
}

// Cost is the estimated GPU spend for count jobs.
type Cost struct {
	ThisHour  float64 `json:"thisHour"`
	ThisDay   float64 `json:"thisDay"`
	ThisMonth float64 `json:"thisMonth"`
	ThisYear  float64 `json:"thisYear"`
	AllTime   float64 `json:"allTime"`
}

// EstimateCost prices each window at averageJobSeconds of GPU time per job.
func EstimateCost(r Report, averageJobSeconds int, perHour float64) Cost {
	price := func(n int64) float64 {
		return float64(n) * float64(averageJobSeconds) / HourSeconds * perHour
	}
	return Cost{
		ThisHour:  price(int64(r.ThisHour)),
		ThisDay:   price(int64(r.ThisDay)),
		ThisMonth: price(int64(r.ThisMonth)),
		ThisYear:  price(int64(r.ThisYear)),
		AllTime:   price(r.AllTime),
	}
}
