package agents

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// Explanation is the trust_transparency output: the spending and anomaly
// figures recomputed from the same snapshot, with the steps spelled out.
type Explanation struct {
	SpendingBehavior []string `json:"spending_behavior"`
	AnomalyMethod    []string `json:"anomaly_method"`
	Sources          []string `json:"sources"`
	DataGaps         []string `json:"data_gaps"`
}

func explainAnalyses(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	txns, err := loadBankTxns(snap)
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, name := range snap.Names() {
		if _, ok := snap.Payload(name); ok {
			sources = append(sources, name)
		}
	}
	return Explanation{
		SpendingBehavior: explainSpending(profileSpending(txns)),
		AnomalyMethod:    explainAnomalies(detectAnomalies(txns)),
		Sources:          sources,
		DataGaps:         append([]string{}, snap.DataGaps()...),
	}, nil
}

func explainSpending(p SpendingProfile) []string {
	return []string{
		fmt.Sprintf("Spending Ratio: your weekend vs. weekday spending ratio is %.2f. A value above 1.0 often indicates significant discretionary spending.", p.WeekendWeekdayRatio),
		fmt.Sprintf("Largest Transaction: your single largest expense was ₹%.2f. High-value transactions significantly impact monthly cash flow.", p.LargestDebit),
		fmt.Sprintf("Transaction Volume: you had %d spending transactions in the analysed period.", p.DebitCount),
	}
}

func explainAnomalies(r AnomalyReport) []string {
	if r.Warning != "" {
		return []string{r.Warning}
	}
	steps := []string{
		fmt.Sprintf("Baseline: your average spend per debit is ₹%.2f.", r.MeanSpending),
		fmt.Sprintf("Volatility: the standard deviation of those debits is ₹%.2f.", r.StdDevSpending),
		fmt.Sprintf("Threshold: average + 2 x standard deviation = ₹%.2f.", r.AnomalyThreshold),
	}
	if len(r.Anomalies) > 0 {
		steps = append(steps, fmt.Sprintf("Flagged: the ₹%.2f debit (%s) exceeded that threshold.", r.Anomalies[0].Amount, r.Anomalies[0].Transaction))
	} else {
		steps = append(steps, "Conclusion: no debit exceeded the threshold.")
	}
	return steps
}
