package providertest

// DefaultFixtures is a small but complete dataset for one user, shaped like
// the provider's real responses.
func DefaultFixtures() map[string]any {
	return map[string]any{
		"fetch_net_worth": map[string]any{
			"netWorthResponse": map[string]any{
				"assetValues": []any{
					map[string]any{"netWorthAttribute": "ASSET_TYPE_SAVINGS_ACCOUNTS", "value": map[string]any{"currencyCode": "INR", "units": "450000"}},
					map[string]any{"netWorthAttribute": "ASSET_TYPE_MUTUAL_FUND", "value": map[string]any{"currencyCode": "INR", "units": "820000"}},
					map[string]any{"netWorthAttribute": "ASSET_TYPE_EPF", "value": map[string]any{"currencyCode": "INR", "units": "310000"}},
					map[string]any{"netWorthAttribute": "ASSET_TYPE_INDIAN_SECURITIES", "value": map[string]any{"currencyCode": "INR", "units": "240000"}},
				},
				"liabilityValues": []any{
					map[string]any{"netWorthAttribute": "LIABILITY_TYPE_CREDIT_CARD", "value": map[string]any{"currencyCode": "INR", "units": "68000"}},
					map[string]any{"netWorthAttribute": "LIABILITY_TYPE_PERSONAL_LOAN", "value": map[string]any{"currencyCode": "INR", "units": "350000"}},
				},
				"totalNetWorthValue": map[string]any{"currencyCode": "INR", "units": "1402000"},
			},
			"mfSchemeAnalytics": map[string]any{
				"schemeAnalytics": []any{
					mfScheme("INF179K01VY8", "HDFC Flexi Cap", "300000"),
					mfScheme("INF846K01DP8", "Axis Bluechip", "520000"),
				},
			},
		},
		"fetch_credit_report": map[string]any{
			"creditReports": []any{
				map[string]any{
					"creditReportData": map[string]any{
						"score": map[string]any{"bureauScore": "742"},
						"creditAccount": map[string]any{
							"creditAccountDetails": []any{
								map[string]any{"accountType": "10", "subscriberName": "HDFC Bank", "currentBalance": "68000", "creditLimitAmount": "200000", "amountPastDue": "0"},
								map[string]any{"accountType": "05", "subscriberName": "Bajaj Finance", "currentBalance": "350000", "highestCreditOrOriginalLoanAmount": "500000", "amountPastDue": "12000", "rateOfInterest": "14.5"},
							},
						},
					},
				},
			},
		},
		"fetch_epf_details": map[string]any{
			"uanAccounts": []any{
				map[string]any{
					"rawDetails": map[string]any{
						"est_details": []any{
							map[string]any{"est_name": "ACME SOFTWARE PVT LTD", "doj_epf": "2019-07-01", "pf_balance": map[string]any{"net_balance": "310000"}},
						},
						"overall_pf_balance": map[string]any{"current_pf_balance": "310000"},
					},
				},
			},
		},
		"fetch_mf_transactions": map[string]any{
			"transactions": []any{
				map[string]any{"isinNumber": "INF179K01VY8", "schemeName": "HDFC Flexi Cap", "transactionDate": "2024-11-05T00:00:00Z", "transactionAmount": "10000", "externalOrderType": "BUY"},
				map[string]any{"isinNumber": "INF179K01VY8", "schemeName": "HDFC Flexi Cap", "transactionDate": "2024-12-05T00:00:00Z", "transactionAmount": "10000", "externalOrderType": "BUY"},
				map[string]any{"isinNumber": "INF846K01DP8", "schemeName": "Axis Bluechip", "transactionDate": "2022-03-10T00:00:00Z", "transactionAmount": "50000", "externalOrderType": "BUY"},
			},
		},
		"fetch_bank_transactions": map[string]any{
			"bankTransactions": []any{
				map[string]any{
					"bank": "HDFC Bank",
					"txns": []any{
						[]any{"120000", "SALARY ACME", "2024-12-01", 1, "NEFT", "520000"},
						[]any{"2500", "UPI SWIGGY", "2024-12-02", 2, "UPI", "517500"},
						[]any{"3200", "UPI BIGBASKET", "2024-12-03", 2, "UPI", "514300"},
						[]any{"1800", "UPI UBER", "2024-12-04", 2, "UPI", "512500"},
						[]any{"15400", "EMI BAJAJ FINANCE", "2024-12-05", 2, "NACH", "497100"},
						[]any{"4100", "POS MALL", "2024-12-07", 2, "CARD", "493000"},
						[]any{"2900", "UPI ZOMATO", "2024-12-08", 2, "UPI", "490100"},
						[]any{"2200", "UPI METRO", "2024-12-10", 2, "UPI", "487900"},
						[]any{"3600", "POS PHARMACY", "2024-12-12", 2, "CARD", "484300"},
						[]any{"2700", "UPI GROCER", "2024-12-14", 2, "UPI", "481600"},
						[]any{"3100", "UPI FUEL", "2024-12-16", 2, "UPI", "478500"},
						[]any{"2400", "UPI CAFE", "2024-12-18", 2, "UPI", "476100"},
						[]any{"95000", "IMPS JEWELLERS", "2024-12-21", 2, "IMPS", "381100"},
					},
				},
			},
		},
		"fetch_stock_transactions": map[string]any{
			"stockTransactions": []any{
				map[string]any{"isin": "INE002A01018", "transactionType": 1, "transactionDate": "2024-06-14", "quantity": 10, "navValue": 2850.5},
				map[string]any{"isin": "INE467B01029", "transactionType": 1, "transactionDate": "2024-09-02", "quantity": 15, "navValue": 4120.0},
			},
		},
	}
}

func mfScheme(isin, name, value string) map[string]any {
	return map[string]any{
		"schemeDetail": map[string]any{"isinNumber": isin, "schemeName": name},
		"enrichedAnalytics": map[string]any{
			"analytics": map[string]any{
				"schemeDetails": map[string]any{"currentValue": map[string]any{"currencyCode": "INR", "units": value}},
			},
		},
	}
}
