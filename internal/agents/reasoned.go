package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

type role struct {
	name        string
	instruction string
	fallback    string
}

var (
	marketRole = role{
		name: "market",
		instruction: "You are a financial market analyst for Indian retail investors. Answer the question " +
			"with concise, data-driven market context: index levels, rates, gold prices or sector trends as relevant.",
		fallback: "Could not get market information at this time.",
	}
	regionalRole = role{
		name: "regional",
		instruction: "You are a regional investment specialist. Give location-aware context on real estate, " +
			"rental yields and regional opportunities relevant to the question.",
		fallback: "Could not get regional investment information at this time.",
	}
)

// reasonerAgent answers from the reasoning backend, grounded with a compact
// portfolio summary from the snapshot.
type reasonerAgent struct {
	role     role
	reasoner reasoning.Reasoner
	logger   *log.Logger
}

func (a *reasonerAgent) Analyze(ctx context.Context, snap *snapshot.Snapshot, query string) (any, error) {
	text, err := a.reasoner.Reason(ctx, a.prompt(snap, query))
	if err != nil {
		if errors.Is(err, reasoning.ErrDisabled) {
			return nil, producer.Unavailable("%s", a.role.fallback)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Printf("%s reasoning failed: %v", a.role.name, err)
		return nil, &producer.Error{Kind: producer.KindUnavailable, Message: a.role.fallback, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, producer.Unavailable("%s", a.role.fallback)
	}
	if raw := reasoning.ExtractFirstJSON(text); raw != "" {
		var structured map[string]any
		if json.Unmarshal([]byte(raw), &structured) == nil && len(structured) > 0 {
			return structured, nil
		}
	}
	return map[string]any{"analysis": text}, nil
}

func (a *reasonerAgent) prompt(snap *snapshot.Snapshot, query string) string {
	var sb strings.Builder
	sb.WriteString(a.role.instruction)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	if holdings := portfolioSummary(snap); holdings != "" {
		sb.WriteString("\n\nThe user's holdings (INR): ")
		sb.WriteString(holdings)
	}
	sb.WriteString("\n\nReply with JSON only: {\"summary\": string, \"recommendations\": [string], \"confidence\": number between 0 and 1}")
	return sb.String()
}

// portfolioSummary lists asset totals, or "" when net worth is unavailable.
func portfolioSummary(snap *snapshot.Snapshot) string {
	var nw netWorth
	if decode(snap, SourceNetWorth, &nw) != nil {
		return ""
	}
	parts := make([]string, 0, len(nw.Response.AssetValues))
	for _, av := range nw.Response.AssetValues {
		name := strings.ToLower(strings.TrimPrefix(av.Attribute, "ASSET_TYPE_"))
		parts = append(parts, fmt.Sprintf("%s=%.0f", name, float64(av.Value.Units)))
	}
	return strings.Join(parts, ", ")
}
