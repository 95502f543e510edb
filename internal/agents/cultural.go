package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

var festivalMonths = map[time.Month][]string{
	time.March:     {"Holi"},
	time.August:    {"Raksha Bandhan"},
	time.September: {"Ganesh Chaturthi"},
	time.October:   {"Navaratri", "Dussehra"},
	time.November:  {"Diwali"},
}

// FestivalForecast is the cultural_events output.
type FestivalForecast struct {
	Warning                string          `json:"warning,omitempty"`
	AverageMonthlySpending float64         `json:"average_monthly_spending"`
	PeakMonthSpending      float64         `json:"peak_month_spending,omitempty"`
	Upcoming               []FestivalMonth `json:"upcoming_festival_months_analysis"`
	Recommendations        []string        `json:"recommendations,omitempty"`
}

type FestivalMonth struct {
	Month     int      `json:"month"`
	Festivals []string `json:"festivals"`
	Forecast  string   `json:"forecast"`
}

type culturalForecaster struct {
	now func() time.Time
}

func (c *culturalForecaster) Analyze(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	txns, err := loadBankTxns(snap)
	if err != nil {
		return nil, err
	}
	return c.forecast(txns), nil
}

func (c *culturalForecaster) forecast(txns []bankTxn) FestivalForecast {
	// keyed by calendar month, so several years of history fold together
	monthly := make(map[time.Month]float64)
	for _, t := range debits(txns) {
		monthly[t.Date.Month()] += t.Amount
	}
	if len(monthly) == 0 {
		return FestivalForecast{Warning: "No spending data available to analyze.", Upcoming: []FestivalMonth{}}
	}
	var sum, peak float64
	for _, v := range monthly {
		sum += v
		peak = max(peak, v)
	}
	avg := sum / float64(len(monthly))
	f := FestivalForecast{
		AverageMonthlySpending: round2(avg),
		PeakMonthSpending:      round2(peak),
		Upcoming:               []FestivalMonth{},
	}

	current := c.now().Month()
	months := make([]time.Month, 0, len(festivalMonths))
	for m := range festivalMonths {
		if m >= current {
			months = append(months, m)
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })
	for _, m := range months {
		names := festivalMonths[m]
		f.Upcoming = append(f.Upcoming, FestivalMonth{
			Month:     int(m),
			Festivals: append([]string(nil), names...),
			Forecast:  fmt.Sprintf("Expect potentially higher spending in %s for %s.", m, strings.Join(names, ", ")),
		})
	}
	if len(f.Upcoming) > 0 {
		next := f.Upcoming[0]
		f.Recommendations = []string{
			fmt.Sprintf("Set aside about ₹%.0f ahead of %s for %s", avg*0.2, time.Month(next.Month), strings.Join(next.Festivals, ", ")),
		}
	}
	return f
}
