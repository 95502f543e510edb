package consensus

import (
	"fmt"
	"strings"
)

var rule = strings.Repeat("=", 60)

// RenderTransparency appends the human readable provenance block to the
// narrative.
func RenderTransparency(r *Result) string {
	var sb strings.Builder
	if r.Narrative != "" {
		sb.WriteString(r.Narrative)
		sb.WriteString("\n")
	}
	sb.WriteString("\n" + rule + "\n")
	sb.WriteString("ANALYSIS TRANSPARENCY\n")
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "Agents Consulted: %d/%d available\n", r.Consulted(), r.Registered)
	fmt.Fprintf(&sb, "Analysis Time: %.2fs\n", r.Duration.Seconds())
	fmt.Fprintf(&sb, "Consensus Confidence: %.0f%%\n", r.OverallConfidence*100)
	primary := "none"
	if len(r.Primary) > 0 {
		primary = strings.Join(r.Primary, ", ")
	}
	fmt.Fprintf(&sb, "Primary Experts: %s\n", primary)
	fmt.Fprintf(&sb, "Weighting: %s\n", r.WeightingMethod)

	sb.WriteString("\nAGENT INFLUENCE WEIGHTS:\n")
	for i, pw := range r.Participating {
		if i == 5 {
			break
		}
		fmt.Fprintf(&sb, "   • %s: %.1f%%\n", titleCase(pw.Name), pw.Weight*100)
	}
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(&sb, "\nConflicts Resolved: %d\n", len(r.Conflicts))
	}
	if len(r.DataGaps) > 0 {
		fmt.Fprintf(&sb, "Data Gaps: %s\n", strings.Join(r.DataGaps, ", "))
	}
	var missing []string
	for _, e := range r.Excluded {
		if e.Kind == ExclusionNotSelected {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", e.Name, e.Reason))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&sb, "Not Contributing: %s\n", strings.Join(missing, "; "))
	}
	sb.WriteString(rule)
	return sb.String()
}

func titleCase(name string) string {
	parts := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
