package agents

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/artha/internal/datasource/providertest"
	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

var midJanuary = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

// fixtureSnapshot builds a snapshot from the default provider fixtures; the
// named sources are recorded as failed fetches.
func fixtureSnapshot(t *testing.T, failed ...string) *snapshot.Snapshot {
	t.Helper()
	var results []snapshot.SourceResult
	for name, v := range providertest.DefaultFixtures() {
		if slices.Contains(failed, name) {
			results = append(results, snapshot.SourceResult{Name: name, Err: "remote: 502"})
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		results = append(results, snapshot.SourceResult{Name: name, Payload: raw, FetchedAt: midJanuary})
	}
	return snapshot.New("2222222222", midJanuary, results)
}

func fixtureTxns(t *testing.T) []bankTxn {
	t.Helper()
	txns, err := loadBankTxns(fixtureSnapshot(t))
	if err != nil {
		t.Fatalf("loadBankTxns: %v", err)
	}
	return txns
}

func TestParseTxnAcceptsStringsAndNumbers(t *testing.T) {
	row := func(vals ...string) []json.RawMessage {
		out := make([]json.RawMessage, len(vals))
		for i, v := range vals {
			out[i] = json.RawMessage(v)
		}
		return out
	}
	cases := []struct {
		name string
		row  []json.RawMessage
		ok   bool
		amt  float64
	}{
		{"strings", row(`"2500"`, `"UPI"`, `"2024-12-02"`, `"2"`, `"UPI"`, `"100"`), true, 2500},
		{"numbers", row(`2500.5`, `"UPI"`, `"2024-12-02"`, `2`, `"UPI"`, `100`), true, 2500.5},
		{"short row", row(`2500`, `"UPI"`, `"2024-12-02"`), false, 0},
		{"bad amount", row(`"abc"`, `"UPI"`, `"2024-12-02"`, `2`, `"UPI"`, `100`), false, 0},
		{"bad date", row(`2500`, `"UPI"`, `"02/12/2024"`, `2`, `"UPI"`, `100`), false, 0},
	}
	for _, tc := range cases {
		got, ok := parseTxn(tc.row)
		if ok != tc.ok {
			t.Fatalf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
		}
		if ok && (got.Amount != tc.amt || got.Type != txnDebit) {
			t.Fatalf("%s: unexpected txn %+v", tc.name, got)
		}
	}
}

func TestSpendingProfile(t *testing.T) {
	p := profileSpending(fixtureTxns(t))
	if p.DebitCount != 12 || p.TotalDebits != 138900 || p.LargestDebit != 95000 {
		t.Fatalf("unexpected totals %+v", p)
	}
	if p.WeekendSpending != 104700 || p.WeekdaySpending != 34200 {
		t.Fatalf("unexpected weekend/weekday split %v/%v", p.WeekendSpending, p.WeekdaySpending)
	}
	if p.WeekendWeekdayRatio != 3.06 || p.SpendingVelocity != 2.19 {
		t.Fatalf("unexpected ratio %v or velocity %v", p.WeekendWeekdayRatio, p.SpendingVelocity)
	}
	if math.Abs(p.TransactionFrequency-0.4) > 1e-9 {
		t.Fatalf("unexpected frequency %v", p.TransactionFrequency)
	}
	if len(p.BehavioralInsights) != 2 || !strings.Contains(p.BehavioralInsights[0], "volatility") {
		t.Fatalf("unexpected insights %v", p.BehavioralInsights)
	}
}

func TestSpendingProfileWithoutDebits(t *testing.T) {
	p := profileSpending(nil)
	if p.DebitCount != 0 || p.WeekendWeekdayRatio != 0 || len(p.BehavioralInsights) != 0 {
		t.Fatalf("expected empty profile, got %+v", p)
	}
}

func TestDetectAnomaliesFlagsJewellerDebit(t *testing.T) {
	r := detectAnomalies(fixtureTxns(t))
	if r.Warning != "" {
		t.Fatalf("unexpected warning %q", r.Warning)
	}
	if r.MeanSpending != 11575 || r.AnomalyCount != 1 {
		t.Fatalf("unexpected report %+v", r)
	}
	a := r.Anomalies[0]
	if a.Transaction != "IMPS JEWELLERS" || a.Amount != 95000 || a.Date != "2024-12-21" {
		t.Fatalf("unexpected anomaly %+v", a)
	}
	if !strings.HasPrefix(a.Reason, "Exceeds anomaly threshold of ") || len(r.Recommendations) == 0 {
		t.Fatalf("unexpected reason %q / recommendations %v", a.Reason, r.Recommendations)
	}
}

func TestDetectAnomaliesNeedsFiveDebits(t *testing.T) {
	var txns []bankTxn
	for i := 0; i < 4; i++ {
		txns = append(txns, bankTxn{Amount: 100, Type: txnDebit, Date: midJanuary})
	}
	txns = append(txns, bankTxn{Amount: 90000, Type: txnCredit, Date: midJanuary})
	r := detectAnomalies(txns)
	if r.Warning == "" || r.AnomalyCount != 0 {
		t.Fatalf("expected warning for a thin sample, got %+v", r)
	}
}

func TestDebtSummary(t *testing.T) {
	out, err := analyzeDebt(context.Background(), fixtureSnapshot(t), "pay off debt?")
	if err != nil {
		t.Fatalf("analyzeDebt: %v", err)
	}
	s := out.(DebtSummary)
	if s.TotalOutstanding != 418000 || len(s.CreditCards) != 1 || len(s.Loans) != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if len(s.PastDue) != 1 || s.PastDue[0] != (PastDue{AccountType: "Bajaj Finance", Amount: 12000}) {
		t.Fatalf("unexpected past due %+v", s.PastDue)
	}
	if s.Loans[0].OriginalAmount != 500000 || s.BureauScore != 742 {
		t.Fatalf("unexpected loan %+v / score %v", s.Loans[0], s.BureauScore)
	}
	joined := strings.Join(s.Recommendations, "\n")
	for _, want := range []string{"₹12000 past due", "14.5%", "HDFC Bank card utilisation"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("recommendations missing %q:\n%s", want, joined)
		}
	}
}

func TestLoanAccountCodes(t *testing.T) {
	for code, want := range map[string]bool{"01": true, "05": true, "99": true, "10": false, "00": false, "1": false, "A5": false} {
		if got := isLoanAccount(code); got != want {
			t.Fatalf("%q: expected %v, got %v", code, want, got)
		}
	}
}

func TestCulturalForecast(t *testing.T) {
	c := &culturalForecaster{now: func() time.Time { return midJanuary }}
	f := c.forecast(fixtureTxns(t))
	if f.AverageMonthlySpending != 138900 || len(f.Upcoming) != 5 {
		t.Fatalf("unexpected forecast %+v", f)
	}
	if got := f.Upcoming[0].Forecast; got != "Expect potentially higher spending in March for Holi." {
		t.Fatalf("unexpected first forecast %q", got)
	}
	if got := f.Upcoming[3].Forecast; got != "Expect potentially higher spending in October for Navaratri, Dussehra." {
		t.Fatalf("unexpected october forecast %q", got)
	}

	late := &culturalForecaster{now: func() time.Time { return time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC) }}
	if f := late.forecast(fixtureTxns(t)); len(f.Upcoming) != 0 || len(f.Recommendations) != 0 {
		t.Fatalf("no festivals remain in December, got %+v", f.Upcoming)
	}
	if f := c.forecast(nil); f.Warning == "" {
		t.Fatalf("expected warning without spending data")
	}
}

func TestIlliquidAnalysis(t *testing.T) {
	a := &illiquidAnalyzer{now: func() time.Time { return midJanuary }}
	out, err := a.Analyze(context.Background(), fixtureSnapshot(t), "monetize dormant assets")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	r := out.(IlliquidReport)
	if r.LiquidityScore != 72.31 {
		t.Fatalf("unexpected liquidity score %v", r.LiquidityScore)
	}
	if r.Breakdown["medium_liquidity"].Value != 1060000 || r.Breakdown["low_liquidity"].Value != 310000 {
		t.Fatalf("unexpected breakdown %+v", r.Breakdown)
	}
	var types []string
	for _, d := range r.Dormant {
		types = append(types, d.Type+":"+d.SchemeName)
	}
	if !slices.Equal(types, []string{"excessive_savings:", "dormant_mutual_fund:Axis Bluechip"}) {
		t.Fatalf("unexpected dormant assets %v", types)
	}
	if r.Dormant[0].OpportunityCost.Annual != 13500 {
		t.Fatalf("unexpected opportunity cost %+v", r.Dormant[0].OpportunityCost)
	}
	if len(r.Opportunities) != 1 || r.Opportunities[0].Type != "dormant_fund_review" {
		t.Fatalf("unexpected opportunities %+v", r.Opportunities)
	}
	if r.Emergency.RecommendedFund != 833400 || r.Emergency.Score != 54 || r.Emergency.Status != "needs_improvement" {
		t.Fatalf("unexpected emergency readiness %+v", r.Emergency)
	}
	if r.IdleCash.IdleAmount != 0 || r.IdleCash.EfficiencyScore != 85 {
		t.Fatalf("unexpected idle cash %+v", r.IdleCash)
	}
}

func TestIlliquidMonetization(t *testing.T) {
	var nw netWorth
	raw := `{"netWorthResponse":{"assetValues":[
		{"netWorthAttribute":"ASSET_TYPE_GOLD","value":{"units":"300000"}},
		{"netWorthAttribute":"ASSET_TYPE_REAL_ESTATE","value":{"units":"7000000"}},
		{"netWorthAttribute":"ASSET_TYPE_SAVINGS_ACCOUNTS","value":{"units":"50000"}}]}}`
	if err := json.Unmarshal([]byte(raw), &nw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r := (&illiquidAnalyzer{now: time.Now}).analyze(nw, mfTransactions{}, false, nil)
	if len(r.Monetization) != 2 || r.Monetization[0].AssetType != "gold" || r.Monetization[0].Liquidity != 255000 {
		t.Fatalf("unexpected monetization %+v", r.Monetization)
	}
	if r.Monetization[1].MonthlyIncome != 35000 {
		t.Fatalf("unexpected rental estimate %+v", r.Monetization[1])
	}
	var rebalance []string
	for _, s := range r.Rebalancing {
		rebalance = append(rebalance, s.Type)
	}
	want := []string{"increase_liquidity", "reduce_illiquid_exposure", "increase_medium_liquidity"}
	if !slices.Equal(rebalance, want) {
		t.Fatalf("expected %v, got %v", want, rebalance)
	}
	if r.Emergency.MonthlyExpense != defaultMonthlyExpense {
		t.Fatalf("expected default expense without statements, got %v", r.Emergency.MonthlyExpense)
	}
}

func TestDataIntegrationReportsGaps(t *testing.T) {
	out, err := analyzeIntegration(context.Background(), fixtureSnapshot(t, SourceEPF), "")
	if err != nil {
		t.Fatalf("analyzeIntegration: %v", err)
	}
	r := out.(IntegrationReport)
	if r.SourcesFetched != 5 || r.SourcesTotal != 6 || r.DataQuality != "warning" {
		t.Fatalf("unexpected report %+v", r)
	}
	if len(r.DataGaps) != 1 || r.DataGaps[0] != SourceEPF || len(r.Recommendations) != 1 {
		t.Fatalf("unexpected gaps %+v", r)
	}
	out, _ = analyzeIntegration(context.Background(), fixtureSnapshot(t), "")
	if q := out.(IntegrationReport).DataQuality; q != "good" {
		t.Fatalf("expected good quality, got %s", q)
	}
}

func TestMissingSourceIsUnavailable(t *testing.T) {
	snap := fixtureSnapshot(t, SourceBankTransactions, SourceCreditReport)
	for name, p := range map[string]producer.Producer{
		"risk":    producer.Func(analyzeRisk),
		"debt":    producer.Func(analyzeDebt),
		"anomaly": producer.Func(analyzeAnomalies),
		"trust":   producer.Func(explainAnalyses),
	} {
		_, err := p.Analyze(context.Background(), snap, "q")
		var perr *producer.Error
		if !errors.As(err, &perr) || perr.Kind != producer.KindUnavailable {
			t.Fatalf("%s: expected unavailable, got %v", name, err)
		}
	}
}

func TestReasonerAgent(t *testing.T) {
	snap := fixtureSnapshot(t)

	disabled := &reasonerAgent{role: marketRole, reasoner: reasoning.Disabled{}, logger: Deps{}.withDefaults().Logger}
	_, err := disabled.Analyze(context.Background(), snap, "nifty?")
	var perr *producer.Error
	if !errors.As(err, &perr) || perr.Kind != producer.KindUnavailable || perr.Message != marketRole.fallback {
		t.Fatalf("expected unavailable with fallback text, got %v", err)
	}

	var prompt string
	structured := &reasonerAgent{role: marketRole, logger: disabled.logger, reasoner: reasoning.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Sure: {\"summary\": \"Nifty near highs\", \"recommendations\": [\"stagger lump sums\"], \"confidence\": 0.7}", nil
	})}
	out, err := structured.Analyze(context.Background(), snap, "Should I invest my bonus?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	m := out.(map[string]any)
	if m["summary"] != "Nifty near highs" || m["confidence"] != 0.7 {
		t.Fatalf("unexpected structured answer %v", m)
	}
	if !strings.Contains(prompt, "savings_accounts=450000") || !strings.Contains(prompt, "Should I invest my bonus?") {
		t.Fatalf("prompt missing holdings or question:\n%s", prompt)
	}

	plain := &reasonerAgent{role: regionalRole, logger: disabled.logger, reasoner: reasoning.Func(func(context.Context, string) (string, error) {
		return "Rental yields in Pune run near 3%.", nil
	})}
	out, _ = plain.Analyze(context.Background(), snap, "property in pune?")
	if out.(map[string]any)["analysis"] != "Rental yields in Pune run near 3%." {
		t.Fatalf("unexpected plain answer %v", out)
	}
}

func TestTrustExplainsAnomaly(t *testing.T) {
	out, err := explainAnalyses(context.Background(), fixtureSnapshot(t, SourceEPF), "why was this flagged?")
	if err != nil {
		t.Fatalf("explainAnalyses: %v", err)
	}
	e := out.(Explanation)
	if len(e.AnomalyMethod) != 4 || !strings.Contains(e.AnomalyMethod[3], "IMPS JEWELLERS") {
		t.Fatalf("unexpected anomaly explanation %v", e.AnomalyMethod)
	}
	if len(e.Sources) != 5 || len(e.DataGaps) != 1 {
		t.Fatalf("unexpected sources %v / gaps %v", e.Sources, e.DataGaps)
	}
}

func TestRegisterAndDispatchBuiltins(t *testing.T) {
	reg := producer.NewRegistry()
	deps := Deps{Now: func() time.Time { return midJanuary }}
	if err := Register(reg, deps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Len() != 9 {
		t.Fatalf("expected 9 builtins, got %d", reg.Len())
	}
	if err := Register(reg, deps); !errors.Is(err, producer.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	d := producer.NewDispatcher(reg, producer.Options{})
	outs := d.Dispatch(context.Background(), fixtureSnapshot(t), "what should I do?", reg.Names()...)
	for _, name := range reg.Names() {
		o := outs[name]
		reasoned := name == "market_intelligence" || name == "regional_investment"
		if reasoned && (o.OK() || o.Err.Kind != producer.KindUnavailable) {
			t.Fatalf("%s should be unavailable without a reasoner: %+v", name, o)
		}
		if !reasoned && !o.OK() {
			t.Fatalf("%s failed: %v", name, o.Err)
		}
	}
	debt, ok := outs["debt_management"].Payload.(map[string]any)
	if !ok || debt["total_outstanding_debt"] != 418000.0 {
		t.Fatalf("payload not normalized: %#v", outs["debt_management"].Payload)
	}
}
