package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/store"
)

// OpsHandler exposes the producer catalogue and a small HTML dashboard.
type OpsHandler struct {
	Registry *producer.Registry
	Store    *store.Store
}

// Register mounts ops endpoints under the provided group. It expects authentication to be applied by caller.
func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/producers", h.producers)
	g.GET("/dashboard", h.dashboard)
}

func producerInfos(reg *producer.Registry) []ProducerInfo {
	specs := reg.Specs()
	out := make([]ProducerInfo, 0, len(specs))
	for _, s := range specs {
		info := ProducerInfo{
			Name:           s.Name,
			Description:    s.Description,
			Tags:           s.Tags,
			AlwaysActive:   s.AlwaysActive,
			AlwaysRelevant: s.AlwaysRelevant,
		}
		if s.Timeout > 0 {
			info.Timeout = s.Timeout.String()
		}
		out = append(out, info)
	}
	return out
}

// producers lists every registered producer.
//
//	@Summary	Registered producers
//	@Tags		ops
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{array}	ProducerInfo
//	@Router		/api/ops/producers [get]
func (h *OpsHandler) producers(c echo.Context) error {
	return c.JSON(http.StatusOK, producerInfos(h.Registry))
}

// dashboard renders the producer catalogue and the caller's recent results without JS.
func (h *OpsHandler) dashboard(c echo.Context) error {
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><title>Artha Dashboard</title></head><body style=\"font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif; color:#e5e7eb; background:#0f172a;\">")
	b.WriteString("<div style=\"max-width:960px;margin:24px auto;padding:0 16px\">")
	b.WriteString("<h1 style=\"font-size:18px;font-weight:600;margin-bottom:8px\">Producers</h1><ul>")
	for _, p := range producerInfos(h.Registry) {
		fmt.Fprintf(&b, "<li><code>%s</code> %s</li>", template.HTMLEscapeString(p.Name), template.HTMLEscapeString(strings.Join(p.Tags, ", ")))
	}
	b.WriteString("</ul>")
	if h.Store != nil {
		items, err := h.Store.ListResults(c.Request().Context(), userID(c), 10)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		b.WriteString("<h2 style=\"font-size:14px;font-weight:600;margin:16px 0 8px\">Recent queries</h2>")
		b.WriteString("<table style=\"width:100%;border-collapse:collapse\">")
		for _, it := range items {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%.0f%%</td><td>%s</td></tr>",
				it.CreatedAt.Format("2006-01-02 15:04"),
				template.HTMLEscapeString(it.Query),
				it.OverallConfidence*100,
				template.HTMLEscapeString(strings.Join(it.Primary, ", ")))
		}
		b.WriteString("</table>")
	}
	b.WriteString("</div></body></html>")
	return c.HTML(http.StatusOK, b.String())
}
