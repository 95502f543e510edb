// Package agents holds the built-in financial producers. Each one reads the
// shared snapshot and returns a JSON-shaped analysis; none of them talks to
// the data provider directly.
package agents

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// Provider tool names read by the agents.
const (
	SourceNetWorth          = "fetch_net_worth"
	SourceCreditReport      = "fetch_credit_report"
	SourceEPF               = "fetch_epf_details"
	SourceMFTransactions    = "fetch_mf_transactions"
	SourceBankTransactions  = "fetch_bank_transactions"
	SourceStockTransactions = "fetch_stock_transactions"
)

// Deps are the collaborators the built-in producers need. Zero values are
// usable: reasoner-backed producers report themselves unavailable.
type Deps struct {
	Market   reasoning.Reasoner
	Regional reasoning.Reasoner
	Now      func() time.Time
	Logger   *log.Logger
	// ReasonerTimeout bounds the reasoner-backed producers; 0 keeps the
	// dispatcher default.
	ReasonerTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Market == nil {
		d.Market = reasoning.Disabled{}
	}
	if d.Regional == nil {
		d.Regional = d.Market
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	return d
}

// Builtin pairs a producer with its registration spec.
type Builtin struct {
	Spec     producer.Spec
	Producer producer.Producer
}

// Builtins returns every built-in producer.
func Builtins(deps Deps) []Builtin {
	deps = deps.withDefaults()
	return []Builtin{
		{
			Spec: producer.Spec{
				Name:           "data_integration",
				Description:    "Reports which financial sources were fetched and the overall data quality.",
				Tags:           []string{"data", "account", "balance", "fetch", "integrate"},
				AlwaysActive:   true,
				AlwaysRelevant: true,
			},
			Producer: producer.Func(analyzeIntegration),
		},
		{
			Spec: producer.Spec{
				Name:        "risk_profiling",
				Description: "Behavioural spending patterns: weekend skew, volatility, frequency.",
				Tags:        []string{"risk", "behavior", "spending", "pattern", "psychology"},
			},
			Producer: producer.Func(analyzeRisk),
		},
		{
			Spec: producer.Spec{
				Name:        "debt_management",
				Description: "Outstanding credit card and loan balances with past-due accounts.",
				Tags:        []string{"loan", "debt", "emi", "credit", "borrow"},
			},
			Producer: producer.Func(analyzeDebt),
		},
		{
			Spec: producer.Spec{
				Name:        "anomaly_detection",
				Description: "Flags debits above mean plus two standard deviations.",
				Tags:        []string{"unusual", "fraud", "anomaly", "suspicious", "alert"},
			},
			Producer: producer.Func(analyzeAnomalies),
		},
		{
			Spec: producer.Spec{
				Name:        "illiquid_asset",
				Description: "Liquidity breakdown, dormant assets and monetization options.",
				Tags:        []string{"gold", "property", "illiquid", "dormant", "monetize"},
			},
			Producer: &illiquidAnalyzer{now: deps.Now},
		},
		{
			Spec: producer.Spec{
				Name:        "cultural_events",
				Description: "Festival-driven spending forecast from monthly debit history.",
				Tags:        []string{"festival", "wedding", "diwali", "cultural", "family"},
			},
			Producer: &culturalForecaster{now: deps.Now},
		},
		{
			Spec: producer.Spec{
				Name:        "market_intelligence",
				Description: "Market conditions relevant to the question, from the reasoning backend.",
				Tags:        []string{"market", "stock", "investment", "invest", "price", "trend"},
				Timeout:     deps.ReasonerTimeout,
			},
			Producer: &reasonerAgent{role: marketRole, reasoner: deps.Market, logger: deps.Logger},
		},
		{
			Spec: producer.Spec{
				Name:        "regional_investment",
				Description: "Location-aware property and regional investment context.",
				Tags:        []string{"property", "real estate", "location", "city", "area"},
				Timeout:     deps.ReasonerTimeout,
			},
			Producer: &reasonerAgent{role: regionalRole, reasoner: deps.Regional, logger: deps.Logger},
		},
		{
			Spec: producer.Spec{
				Name:           "trust_transparency",
				Description:    "Explains how the spending and anomaly figures were derived.",
				Tags:           []string{"explain", "why", "how", "transparency", "audit"},
				AlwaysRelevant: true,
			},
			Producer: producer.Func(explainAnalyses),
		},
	}
}

// Register adds every built-in producer to reg.
func Register(reg *producer.Registry, deps Deps) error {
	for _, b := range Builtins(deps) {
		if err := reg.Register(b.Spec, b.Producer); err != nil {
			return fmt.Errorf("register %s: %w", b.Spec.Name, err)
		}
	}
	return nil
}

// decode unmarshals a source into v. A missing or failed source yields an
// unavailable producer error so the dispatcher classifies it correctly.
func decode(snap *snapshot.Snapshot, source string, v any) error {
	raw, ok := snap.Payload(source)
	if !ok {
		return producer.Unavailable("%s not available", source)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", source, err)
	}
	return nil
}

// amount accepts the provider's numbers, which arrive either as JSON numbers
// or as numeric strings.
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", b, err)
	}
	*a = amount(f)
	return nil
}

type money struct {
	CurrencyCode string `json:"currencyCode"`
	Units        amount `json:"units"`
}

const (
	txnCredit = 1
	txnDebit  = 2
)

// bankTxn is one row of fetch_bank_transactions:
// [amount, narration, date, type, mode, balance].
type bankTxn struct {
	Amount    float64
	Narration string
	Date      time.Time
	Type      int
	Mode      string
	Balance   float64
}

type bankStatement struct {
	BankTransactions []struct {
		Bank string              `json:"bank"`
		Txns [][]json.RawMessage `json:"txns"`
	} `json:"bankTransactions"`
}

// loadBankTxns flattens every bank's rows. Malformed rows are skipped, as
// are rows whose date cannot be parsed; Date is never zero in the result.
func loadBankTxns(snap *snapshot.Snapshot) ([]bankTxn, error) {
	var doc bankStatement
	if err := decode(snap, SourceBankTransactions, &doc); err != nil {
		return nil, err
	}
	var out []bankTxn
	for _, bank := range doc.BankTransactions {
		for _, row := range bank.Txns {
			if t, ok := parseTxn(row); ok {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func parseTxn(row []json.RawMessage) (bankTxn, bool) {
	if len(row) < 6 {
		return bankTxn{}, false
	}
	var (
		amt, typ, bal amount
		date          string
		t             bankTxn
	)
	if json.Unmarshal(row[0], &amt) != nil || json.Unmarshal(row[3], &typ) != nil {
		return bankTxn{}, false
	}
	if json.Unmarshal(row[2], &date) != nil {
		return bankTxn{}, false
	}
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return bankTxn{}, false
	}
	_ = json.Unmarshal(row[1], &t.Narration)
	_ = json.Unmarshal(row[4], &t.Mode)
	_ = json.Unmarshal(row[5], &bal)
	t.Amount = float64(amt)
	t.Type = int(typ)
	t.Date = d
	t.Balance = float64(bal)
	return t, true
}

func debits(txns []bankTxn) []bankTxn {
	var out []bankTxn
	for _, t := range txns {
		if t.Type == txnDebit {
			out = append(out, t)
		}
	}
	return out
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
