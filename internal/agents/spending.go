package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// SpendingProfile is the risk_profiling output.
type SpendingProfile struct {
	WeekendSpending      float64  `json:"weekend_spending"`
	WeekdaySpending      float64  `json:"weekday_spending"`
	WeekendWeekdayRatio  float64  `json:"weekend_weekday_spending_ratio"`
	TotalDebits          float64  `json:"total_debits"`
	LargestDebit         float64  `json:"largest_debit"`
	DebitCount           int      `json:"debit_transactions_count"`
	SpendingVelocity     float64  `json:"spending_velocity"`
	TransactionFrequency float64  `json:"transaction_frequency"`
	BehavioralInsights   []string `json:"behavioral_insights"`
}

func analyzeRisk(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	txns, err := loadBankTxns(snap)
	if err != nil {
		return nil, err
	}
	return profileSpending(txns), nil
}

func profileSpending(txns []bankTxn) SpendingProfile {
	p := SpendingProfile{BehavioralInsights: []string{}}
	var amounts []float64
	for _, t := range debits(txns) {
		p.TotalDebits += t.Amount
		p.DebitCount++
		amounts = append(amounts, t.Amount)
		p.LargestDebit = max(p.LargestDebit, t.Amount)
		if wd := t.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			p.WeekendSpending += t.Amount
		} else {
			p.WeekdaySpending += t.Amount
		}
	}
	if p.WeekdaySpending > 0 {
		p.WeekendWeekdayRatio = round2(p.WeekendSpending / p.WeekdaySpending)
	}
	if len(amounts) == 0 {
		return p
	}
	mean, std := meanStd(amounts)
	if mean > 0 {
		p.SpendingVelocity = round2(std / mean)
	}
	// the statement covers roughly one month
	p.TransactionFrequency = float64(len(amounts)) / 30

	if p.SpendingVelocity > 2 {
		p.BehavioralInsights = append(p.BehavioralInsights, "High spending volatility detected - suggests emotional spending patterns")
	}
	if p.WeekendWeekdayRatio > 1.5 {
		p.BehavioralInsights = append(p.BehavioralInsights, "Significant weekend discretionary spending - opportunity for optimization")
	}
	if p.TransactionFrequency > 5 {
		p.BehavioralInsights = append(p.BehavioralInsights, "High transaction frequency - consider consolidating purchases")
	}
	return p
}

// minAnomalySample is the fewest debits worth a statistical baseline.
const minAnomalySample = 5

// AnomalyReport is the anomaly_detection output.
type AnomalyReport struct {
	Warning          string    `json:"warning,omitempty"`
	MeanSpending     float64   `json:"mean_spending"`
	StdDevSpending   float64   `json:"std_dev_spending"`
	AnomalyThreshold float64   `json:"anomaly_threshold"`
	Anomalies        []Anomaly `json:"detected_anomalies"`
	AnomalyCount     int       `json:"anomaly_count"`
	Recommendations  []string  `json:"recommendations,omitempty"`
}

type Anomaly struct {
	Transaction string  `json:"transaction"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
}

func analyzeAnomalies(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	txns, err := loadBankTxns(snap)
	if err != nil {
		return nil, err
	}
	return detectAnomalies(txns), nil
}

func detectAnomalies(txns []bankTxn) AnomalyReport {
	ds := debits(txns)
	if len(ds) < minAnomalySample {
		return AnomalyReport{
			Warning:   "Not enough debit transactions to perform anomaly detection.",
			Anomalies: []Anomaly{},
		}
	}
	amounts := make([]float64, len(ds))
	for i, t := range ds {
		amounts[i] = t.Amount
	}
	mean, std := meanStd(amounts)
	threshold := mean + 2*std

	r := AnomalyReport{
		MeanSpending:     round2(mean),
		StdDevSpending:   round2(std),
		AnomalyThreshold: round2(threshold),
		Anomalies:        []Anomaly{},
	}
	for _, t := range ds {
		if t.Amount <= threshold {
			continue
		}
		r.Anomalies = append(r.Anomalies, Anomaly{
			Transaction: t.Narration,
			Date:        t.Date.Format("2006-01-02"),
			Amount:      t.Amount,
			Reason:      fmt.Sprintf("Exceeds anomaly threshold of %.2f", threshold),
		})
	}
	r.AnomalyCount = len(r.Anomalies)
	if r.AnomalyCount > 0 {
		r.Recommendations = []string{"Review flagged transactions and confirm they were authorised"}
	}
	return r
}
