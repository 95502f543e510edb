package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/artha/internal/consensus"
	"github.com/mohammad-safakhou/artha/internal/datasource"
	"github.com/mohammad-safakhou/artha/internal/runtime"
	"github.com/mohammad-safakhou/artha/internal/store"
)

// ConsensusHandler serves queries and the per-user result history.
type ConsensusHandler struct {
	Engine *consensus.Engine
	// Store is optional; history endpoints answer 503 without it.
	Store *store.Store
}

func (h *ConsensusHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.ask)
	g.GET("/history", h.history)
	g.GET("/:id", h.get)
}

// Ask
//
//	@Summary	Run a consensus query over the caller's financial data
//	@Tags		consensus
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		AskRequest	true	"Query"
//	@Success	200		{object}	AskResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	502		{object}	HTTPError
//	@Router		/api/consensus [post]
func (h *ConsensusHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.Engine.Process(c.Request().Context(), consensus.Request{
		UserID:       userID(c),
		Query:        req.Query,
		Producers:    req.Producers,
		Hints:        req.Hints,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		return processError(err)
	}
	return c.JSON(http.StatusOK, AskResponse{Result: res, Transparency: consensus.RenderTransparency(res)})
}

func processError(err error) error {
	var authErr *datasource.AuthError
	switch {
	case errors.Is(err, consensus.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &authErr):
		return echo.NewHTTPError(http.StatusBadGateway, "could not authenticate with the data provider")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "query timed out")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// History
//
//	@Summary	List the caller's recent results
//	@Tags		consensus
//	@Security	BearerAuth
//	@Produce	json
//	@Param		limit	query		int	false	"Max rows"
//	@Success	200		{array}		store.ResultSummary
//	@Failure	503		{object}	HTTPError
//	@Router		/api/consensus/history [get]
func (h *ConsensusHandler) history(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "result history is not configured")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	items, err := h.Store.ListResults(c.Request().Context(), userID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ConsensusHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "result history is not configured")
	}
	res, ok, err := h.Store.GetResult(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	return c.JSON(http.StatusOK, AskResponse{Result: res, Transparency: consensus.RenderTransparency(res)})
}
