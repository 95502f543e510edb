package agents

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// creditCardAccount is the bureau account type for credit cards; every other
// two-digit code from 01 to 99 is some kind of loan.
const creditCardAccount = "10"

type creditReport struct {
	CreditReports []struct {
		CreditReportData struct {
			Score struct {
				BureauScore amount `json:"bureauScore"`
			} `json:"score"`
			CreditAccount struct {
				Details []creditAccount `json:"creditAccountDetails"`
			} `json:"creditAccount"`
		} `json:"creditReportData"`
	} `json:"creditReports"`
}

type creditAccount struct {
	AccountType    string `json:"accountType"`
	SubscriberName string `json:"subscriberName"`
	CurrentBalance amount `json:"currentBalance"`
	CreditLimit    amount `json:"creditLimitAmount"`
	OriginalAmount amount `json:"highestCreditOrOriginalLoanAmount"`
	AmountPastDue  amount `json:"amountPastDue"`
	RateOfInterest amount `json:"rateOfInterest"`
}

// DebtSummary is the debt_management output.
type DebtSummary struct {
	TotalOutstanding float64      `json:"total_outstanding_debt"`
	CreditCards      []CreditCard `json:"credit_cards"`
	Loans            []Loan       `json:"loans"`
	PastDue          []PastDue    `json:"past_due_accounts"`
	BureauScore      float64      `json:"bureau_score,omitempty"`
	Recommendations  []string     `json:"recommendations,omitempty"`
}

type CreditCard struct {
	Issuer         string  `json:"issuer"`
	CurrentBalance float64 `json:"current_balance"`
	CreditLimit    float64 `json:"credit_limit"`
	PastDue        float64 `json:"past_due"`
}

type Loan struct {
	Type           string  `json:"type"`
	CurrentBalance float64 `json:"current_balance"`
	OriginalAmount float64 `json:"original_amount"`
	InterestRate   float64 `json:"interest_rate,omitempty"`
	PastDue        float64 `json:"past_due"`
}

type PastDue struct {
	AccountType string  `json:"account_type"`
	Amount      float64 `json:"amount"`
}

func analyzeDebt(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	var report creditReport
	if err := decode(snap, SourceCreditReport, &report); err != nil {
		return nil, err
	}
	return summarizeDebt(report), nil
}

func isLoanAccount(code string) bool {
	if len(code) != 2 || code == "00" || code == creditCardAccount {
		return false
	}
	return code[0] >= '0' && code[0] <= '9' && code[1] >= '0' && code[1] <= '9'
}

func summarizeDebt(report creditReport) DebtSummary {
	s := DebtSummary{CreditCards: []CreditCard{}, Loans: []Loan{}, PastDue: []PastDue{}}
	costliest := -1
	for _, r := range report.CreditReports {
		if score := float64(r.CreditReportData.Score.BureauScore); score > 0 {
			s.BureauScore = score
		}
		for _, acc := range r.CreditReportData.CreditAccount.Details {
			balance := float64(acc.CurrentBalance)
			pastDue := float64(acc.AmountPastDue)
			switch {
			case acc.AccountType == creditCardAccount:
				s.CreditCards = append(s.CreditCards, CreditCard{
					Issuer:         acc.SubscriberName,
					CurrentBalance: balance,
					CreditLimit:    float64(acc.CreditLimit),
					PastDue:        pastDue,
				})
				s.TotalOutstanding += balance
			case isLoanAccount(acc.AccountType):
				s.Loans = append(s.Loans, Loan{
					Type:           acc.SubscriberName,
					CurrentBalance: balance,
					OriginalAmount: float64(acc.OriginalAmount),
					InterestRate:   float64(acc.RateOfInterest),
					PastDue:        pastDue,
				})
				s.TotalOutstanding += balance
				if i := len(s.Loans) - 1; s.Loans[i].InterestRate > 0 && (costliest < 0 || s.Loans[i].InterestRate > s.Loans[costliest].InterestRate) {
					costliest = i
				}
			}
			if pastDue > 0 {
				s.PastDue = append(s.PastDue, PastDue{AccountType: acc.SubscriberName, Amount: pastDue})
			}
		}
	}

	for _, p := range s.PastDue {
		s.Recommendations = append(s.Recommendations, fmt.Sprintf("Clear the ₹%.0f past due with %s immediately", p.Amount, p.AccountType))
	}
	if costliest >= 0 && s.Loans[costliest].CurrentBalance > 0 {
		l := s.Loans[costliest]
		s.Recommendations = append(s.Recommendations,
			fmt.Sprintf("Prioritise prepaying the %.1f%% %s loan (₹%.0f outstanding)", l.InterestRate, l.Type, l.CurrentBalance))
	}
	for _, c := range s.CreditCards {
		if c.CreditLimit > 0 && c.CurrentBalance/c.CreditLimit > 0.3 {
			s.Recommendations = append(s.Recommendations,
				fmt.Sprintf("Bring %s card utilisation below 30%% (currently %.0f%%)", c.Issuer, c.CurrentBalance/c.CreditLimit*100))
		}
	}
	return s
}
