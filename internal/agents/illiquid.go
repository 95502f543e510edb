package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

type liquidityClass struct {
	level          string
	conversionDays int
}

var assetLiquidity = map[string]liquidityClass{
	"ASSET_TYPE_SAVINGS_ACCOUNTS":  {"high", 1},
	"ASSET_TYPE_MUTUAL_FUND":       {"medium", 3},
	"ASSET_TYPE_INDIAN_SECURITIES": {"medium", 2},
	"ASSET_TYPE_US_SECURITIES":     {"medium", 5},
	"ASSET_TYPE_EPF":               {"low", 30},
	"ASSET_TYPE_GOLD":              {"medium", 7},
	"ASSET_TYPE_REAL_ESTATE":       {"very_low", 180},
	"ASSET_TYPE_FIXED_DEPOSITS":    {"medium", 1},
}

var liquidityScore = map[string]float64{"high": 100, "medium": 70, "low": 40, "very_low": 10}

const (
	// idleCashThreshold is the working capital kept out of every idle-cash
	// calculation.
	idleCashThreshold     = 100000
	emergencyFundMonths   = 6
	dormantFundMinValue   = 50000
	dormantReviewMinValue = 100000
	goldMonetizeMinValue  = 200000
	defaultMonthlyExpense = 50000
	// savings vs liquid fund yield gap
	opportunityRate = 0.03
)

type netWorth struct {
	Response struct {
		AssetValues []struct {
			Attribute string `json:"netWorthAttribute"`
			Value     money  `json:"value"`
		} `json:"assetValues"`
	} `json:"netWorthResponse"`
	MFSchemeAnalytics struct {
		SchemeAnalytics []struct {
			SchemeDetail struct {
				ISIN       string `json:"isinNumber"`
				SchemeName string `json:"schemeName"`
			} `json:"schemeDetail"`
			EnrichedAnalytics struct {
				Analytics struct {
					SchemeDetails struct {
						CurrentValue money `json:"currentValue"`
					} `json:"schemeDetails"`
				} `json:"analytics"`
			} `json:"enrichedAnalytics"`
		} `json:"schemeAnalytics"`
	} `json:"mfSchemeAnalytics"`
}

type mfTransactions struct {
	Transactions []struct {
		ISIN string `json:"isinNumber"`
		Date string `json:"transactionDate"`
	} `json:"transactions"`
}

type LiquidityBucket struct {
	Value  float64      `json:"value"`
	Assets []AssetValue `json:"assets"`
}

type AssetValue struct {
	Type           string  `json:"type"`
	Value          float64 `json:"value"`
	ConversionDays int     `json:"conversion_days"`
}

type DormantAsset struct {
	Type            string           `json:"type"`
	SchemeName      string           `json:"scheme_name,omitempty"`
	Value           float64          `json:"value"`
	OpportunityCost *OpportunityCost `json:"opportunity_cost,omitempty"`
	Recommendation  string           `json:"recommendation"`
}

type OpportunityCost struct {
	Annual     float64 `json:"annual_cost"`
	Monthly    float64 `json:"monthly_cost"`
	Assumption string  `json:"assumption"`
}

type IdleCash struct {
	MonthlyExpense       float64 `json:"monthly_expense"`
	RecommendedEmergency float64 `json:"recommended_emergency_fund"`
	SavingsBalance       float64 `json:"savings_balance"`
	IdleAmount           float64 `json:"idle_amount"`
	EfficiencyScore      float64 `json:"efficiency_score"`
}

type Opportunity struct {
	Type         string  `json:"type"`
	Impact       string  `json:"impact"`
	Action       string  `json:"action"`
	ExpectedGain float64 `json:"expected_gain,omitempty"`
	Value        float64 `json:"value,omitempty"`
	Timeline     string  `json:"timeline"`
}

type Monetization struct {
	AssetType     string   `json:"asset_type"`
	Strategy      string   `json:"strategy"`
	Value         float64  `json:"value"`
	Options       []string `json:"options"`
	Liquidity     float64  `json:"estimated_liquidity,omitempty"`
	MonthlyIncome float64  `json:"estimated_monthly_income,omitempty"`
}

type EmergencyReadiness struct {
	MonthlyExpense       float64 `json:"monthly_expense"`
	RecommendedFund      float64 `json:"recommended_emergency_fund"`
	ImmediatelyAvailable float64 `json:"immediately_available"`
	WithinWeek           float64 `json:"available_within_week"`
	Score                float64 `json:"readiness_score"`
	Status               string  `json:"status"`
}

type Rebalance struct {
	Type    string `json:"type"`
	Current string `json:"current"`
	Target  string `json:"target"`
	Action  string `json:"action"`
}

// IlliquidReport is the illiquid_asset output.
type IlliquidReport struct {
	Breakdown       map[string]*LiquidityBucket `json:"asset_liquidity_breakdown"`
	LiquidityScore  float64                     `json:"liquidity_score"`
	Dormant         []DormantAsset              `json:"dormant_assets"`
	IdleCash        IdleCash                    `json:"idle_cash_analysis"`
	Opportunities   []Opportunity               `json:"optimization_opportunities"`
	Monetization    []Monetization              `json:"monetization_strategies"`
	Emergency       EmergencyReadiness          `json:"emergency_readiness"`
	Rebalancing     []Rebalance                 `json:"asset_rebalancing_suggestions"`
	Recommendations []string                    `json:"recommendations,omitempty"`
}

type illiquidAnalyzer struct {
	now func() time.Time
}

func (a *illiquidAnalyzer) Analyze(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	var nw netWorth
	if err := decode(snap, SourceNetWorth, &nw); err != nil {
		return nil, err
	}
	// both optional: without them dormancy and expense estimates degrade
	var mf mfTransactions
	mfOK := decode(snap, SourceMFTransactions, &mf) == nil
	txns, _ := loadBankTxns(snap)
	return a.analyze(nw, mf, mfOK, txns), nil
}

func (a *illiquidAnalyzer) analyze(nw netWorth, mf mfTransactions, mfOK bool, txns []bankTxn) IlliquidReport {
	r := IlliquidReport{
		Breakdown: map[string]*LiquidityBucket{
			"high_liquidity":     {Assets: []AssetValue{}},
			"medium_liquidity":   {Assets: []AssetValue{}},
			"low_liquidity":      {Assets: []AssetValue{}},
			"very_low_liquidity": {Assets: []AssetValue{}},
		},
		Dormant:       []DormantAsset{},
		Opportunities: []Opportunity{},
		Monetization:  []Monetization{},
		Rebalancing:   []Rebalance{},
	}

	var savings, total, weighted float64
	for _, av := range nw.Response.AssetValues {
		value := float64(av.Value.Units)
		if av.Attribute == "ASSET_TYPE_SAVINGS_ACCOUNTS" {
			savings += value
		}
		class, ok := assetLiquidity[av.Attribute]
		if !ok {
			continue
		}
		b := r.Breakdown[class.level+"_liquidity"]
		b.Value += value
		b.Assets = append(b.Assets, AssetValue{Type: av.Attribute, Value: value, ConversionDays: class.conversionDays})
		total += value
		weighted += value * liquidityScore[class.level]
	}
	if total > 0 {
		r.LiquidityScore = round2(weighted / total)
	}

	if savings > idleCashThreshold*3 {
		r.Dormant = append(r.Dormant, DormantAsset{
			Type:            "excessive_savings",
			Value:           savings,
			OpportunityCost: opportunityCost(savings),
			Recommendation:  "Move excess to liquid funds or short-term debt funds",
		})
	}
	if mfOK {
		r.Dormant = append(r.Dormant, a.dormantFunds(nw, mf)...)
	}

	expense := monthlyExpense(txns)
	r.IdleCash = idleCash(savings, expense)
	r.Emergency = emergencyReadiness(r.Breakdown, expense)
	r.Opportunities = opportunities(r.Breakdown, total, r.Dormant, r.IdleCash)
	r.Monetization = monetization(r.Breakdown)
	r.Rebalancing = rebalancing(r.Breakdown, total)

	for _, o := range r.Opportunities {
		r.Recommendations = append(r.Recommendations, o.Action)
	}
	for _, s := range r.Rebalancing {
		r.Recommendations = append(r.Recommendations, s.Action)
	}
	return r
}

// dormantFunds lists schemes without a transaction in the last year.
func (a *illiquidAnalyzer) dormantFunds(nw netWorth, mf mfTransactions) []DormantAsset {
	cutoff := a.now().AddDate(-1, 0, 0)
	recent := make(map[string]bool)
	for _, t := range mf.Transactions {
		d, err := time.Parse(time.RFC3339, t.Date)
		if err != nil {
			continue
		}
		if d.After(cutoff) {
			recent[t.ISIN] = true
		}
	}
	var out []DormantAsset
	for _, s := range nw.MFSchemeAnalytics.SchemeAnalytics {
		if recent[s.SchemeDetail.ISIN] {
			continue
		}
		value := float64(s.EnrichedAnalytics.Analytics.SchemeDetails.CurrentValue.Units)
		if value <= dormantFundMinValue {
			continue
		}
		out = append(out, DormantAsset{
			Type:           "dormant_mutual_fund",
			SchemeName:     s.SchemeDetail.SchemeName,
			Value:          value,
			Recommendation: "Review performance and consider rebalancing",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

func opportunityCost(v float64) *OpportunityCost {
	annual := v * opportunityRate
	return &OpportunityCost{
		Annual:     round2(annual),
		Monthly:    round2(annual / 12),
		Assumption: "3% opportunity cost vs liquid funds",
	}
}

// monthlyExpense averages debits over the calendar months the statement
// covers, falling back to a flat assumption without data.
func monthlyExpense(txns []bankTxn) float64 {
	months := make(map[string]struct{})
	var sum float64
	for _, t := range debits(txns) {
		sum += t.Amount
		months[t.Date.Format("2006-01")] = struct{}{}
	}
	if len(months) == 0 {
		return defaultMonthlyExpense
	}
	return round2(sum / float64(len(months)))
}

func idleCash(savings, expense float64) IdleCash {
	ic := IdleCash{
		MonthlyExpense:       expense,
		RecommendedEmergency: round2(expense * emergencyFundMonths),
		SavingsBalance:       savings,
		EfficiencyScore:      85,
	}
	if surplus := savings - ic.RecommendedEmergency - idleCashThreshold; surplus > 0 {
		ic.IdleAmount = round2(surplus)
		ic.EfficiencyScore = 60
	}
	return ic
}

func emergencyReadiness(b map[string]*LiquidityBucket, expense float64) EmergencyReadiness {
	e := EmergencyReadiness{
		MonthlyExpense:       expense,
		RecommendedFund:      round2(expense * emergencyFundMonths),
		ImmediatelyAvailable: b["high_liquidity"].Value,
		WithinWeek:           b["high_liquidity"].Value + b["medium_liquidity"].Value,
	}
	if e.RecommendedFund > 0 {
		e.Score = round2(min(100, e.ImmediatelyAvailable/e.RecommendedFund*100))
	}
	switch {
	case e.Score >= 100:
		e.Status = "excellent"
	case e.Score >= 75:
		e.Status = "good"
	default:
		e.Status = "needs_improvement"
	}
	return e
}

func opportunities(b map[string]*LiquidityBucket, total float64, dormant []DormantAsset, ic IdleCash) []Opportunity {
	out := []Opportunity{}
	if ic.IdleAmount > 0 {
		out = append(out, Opportunity{
			Type:         "idle_cash_optimization",
			Impact:       "high",
			Action:       fmt.Sprintf("Move ₹%.0f to liquid funds", ic.IdleAmount),
			ExpectedGain: opportunityCost(ic.IdleAmount).Annual,
			Timeline:     "immediate",
		})
	}
	if total > 0 {
		if pct := b["very_low_liquidity"].Value / total * 100; pct > 40 {
			out = append(out, Opportunity{
				Type:     "liquidity_rebalancing",
				Impact:   "medium",
				Action:   fmt.Sprintf("Consider liquidating %.1f%% illiquid assets", pct),
				Timeline: "3-6 months",
			})
		}
	}
	for _, d := range dormant {
		if d.Type == "dormant_mutual_fund" && d.Value > dormantReviewMinValue {
			out = append(out, Opportunity{
				Type:     "dormant_fund_review",
				Impact:   "medium",
				Action:   fmt.Sprintf("Review %s performance", d.SchemeName),
				Value:    d.Value,
				Timeline: "1 month",
			})
		}
	}
	return out
}

func monetization(b map[string]*LiquidityBucket) []Monetization {
	out := []Monetization{}
	for _, level := range []string{"high_liquidity", "medium_liquidity", "low_liquidity", "very_low_liquidity"} {
		for _, a := range b[level].Assets {
			switch {
			case a.Type == "ASSET_TYPE_GOLD" && a.Value > goldMonetizeMinValue:
				out = append(out, Monetization{
					AssetType: "gold",
					Strategy:  "gold_monetization_scheme",
					Value:     a.Value,
					Options: []string{
						"Gold ETF conversion for liquidity",
						"Gold loan against physical gold",
						"Partial liquidation for portfolio rebalancing",
					},
					Liquidity: round2(a.Value * 0.85),
				})
			case a.Type == "ASSET_TYPE_REAL_ESTATE":
				out = append(out, Monetization{
					AssetType: "real_estate",
					Strategy:  "property_monetization",
					Value:     a.Value,
					Options: []string{
						"Rent generation if self-occupied",
						"Loan against property (LAP)",
						"REITs investment for diversification",
					},
					MonthlyIncome: round2(a.Value * 0.005),
				})
			}
		}
	}
	return out
}

func rebalancing(b map[string]*LiquidityBucket, total float64) []Rebalance {
	out := []Rebalance{}
	if total == 0 {
		return out
	}
	pct := func(level string) float64 { return b[level].Value / total * 100 }
	if p := pct("high_liquidity"); p < 15 {
		out = append(out, Rebalance{Type: "increase_liquidity", Current: fmt.Sprintf("%.1f%%", p), Target: "20%",
			Action: "Increase emergency fund in savings/liquid funds"})
	}
	if p := pct("very_low_liquidity"); p > 30 {
		out = append(out, Rebalance{Type: "reduce_illiquid_exposure", Current: fmt.Sprintf("%.1f%%", p), Target: "≤25%",
			Action: "Consider reducing exposure to very illiquid assets"})
	}
	if p := pct("medium_liquidity"); p < 30 {
		out = append(out, Rebalance{Type: "increase_medium_liquidity", Current: fmt.Sprintf("%.1f%%", p), Target: "40-50%",
			Action: "Increase allocation to mutual funds and stocks"})
	}
	return out
}
