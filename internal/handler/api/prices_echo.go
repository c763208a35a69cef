package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FxGuard/internal/domain/models"
	"FxGuard/internal/usecase"
	xhttp "FxGuard/pkg/http"
	xlogger "FxGuard/pkg/logger"
	"FxGuard/pkg/util"
)

// maxPairsPerRequest bounds GET /api/prices fan-out.
const maxPairsPerRequest = 32

// PricesEchoHandler exposes validation, enforcement and statistics over HTTP.
type PricesEchoHandler struct {
	logger    *xlogger.Logger
	validator *usecase.Validator
	enforcer  *usecase.Enforcer
	pairs     []models.CurrencyPair
}

func NewPricesEchoHandler(logger *xlogger.Logger, validator *usecase.Validator, enforcer *usecase.Enforcer, pairs []models.CurrencyPair) *PricesEchoHandler {
	return &PricesEchoHandler{logger: logger.With("api"), validator: validator, enforcer: enforcer, pairs: pairs}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/prices", h.Prices)
	g.DELETE("/prices/cache", h.ClearCache)
	g.GET("/prices/:pair", h.Price)
	g.GET("/prices/:pair/history", h.History)
	g.POST("/signals/validate", h.ValidateSignals)
	g.GET("/stats", h.Stats)
}

// Price validates one pair. Rejections are a 200 with is_valid=false.
func (h *PricesEchoHandler) Price(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pair, err := models.ParsePair(req.Pair)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InvalidFieldError("pair", err.Error()))
	}

	res := h.validator.Validate(c.Request().Context(), pair)
	if res.IsValid {
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	}
	return xhttp.SuccessResponse(c, res)
}

type pricesResponse struct {
	Results map[models.CurrencyPair]models.ValidationResult `json:"results"`
	Valid   int                                             `json:"valid"`
	Total   int                                             `json:"total"`
}

// Prices validates ?pairs=EURUSD,GBPUSD, or every configured pair when omitted.
func (h *PricesEchoHandler) Prices(c echo.Context) error {
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	pairs := h.pairs
	if strings.TrimSpace(req.Pairs) != "" {
		parsed, err := models.ParsePairs(util.Dedupe(util.SplitList(strings.ToUpper(req.Pairs))))
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.InvalidFieldError("pairs", err.Error()))
		}
		pairs = parsed
	}
	if len(pairs) > maxPairsPerRequest {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("at most %d pairs per request", maxPairsPerRequest).
			WithParam("max", maxPairsPerRequest))
	}

	results := h.validator.ValidatePrices(c.Request().Context(), pairs)
	out := pricesResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.IsValid {
			out.Valid++
		}
	}
	return xhttp.SuccessResponse(c, out)
}

type historyResponse struct {
	Pair    models.CurrencyPair       `json:"pair"`
	Records []models.ValidationRecord `json:"records"`
}

func (h *PricesEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pair, err := models.ParsePair(req.Pair)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InvalidFieldError("pair", err.Error()))
	}

	records, err := h.validator.History(c.Request().Context(), pair, req.Limit)
	if errors.Is(err, usecase.ErrHistoryDisabled) {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError(err.Error()))
	}
	if err != nil {
		h.logger.Error("history query failed", xlogger.String("pair", pair.String()), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("history unavailable").WithError(err))
	}
	if records == nil {
		records = []models.ValidationRecord{}
	}
	return xhttp.SuccessResponse(c, historyResponse{Pair: pair, Records: records})
}

type signalResponse struct {
	Signal     models.SignalData       `json:"signal"`
	Rejections []models.AlertRejection `json:"rejections"`
}

// ValidateSignals runs enforcement over a posted batch. Rejections are reported,
// never treated as request errors.
func (h *PricesEchoHandler) ValidateSignals(c echo.Context) error {
	req := &models.SignalValidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	in := models.SignalData{ForexAlerts: req.ForexAlerts, Source: req.Source, GeneratedAt: time.Now().UTC()}
	out, rejections := h.enforcer.ValidateSignalData(c.Request().Context(), in)
	if rejections == nil {
		rejections = []models.AlertRejection{}
	}
	return xhttp.SuccessResponse(c, signalResponse{Signal: out, Rejections: rejections})
}

func (h *PricesEchoHandler) ClearCache(c echo.Context) error {
	if err := h.validator.ClearCache(c.Request().Context()); err != nil {
		h.logger.Error("cache clear failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("cache clear failed").WithError(err))
	}
	return xhttp.NoContentResponse(c)
}

func (h *PricesEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.validator.Stats())
}

type healthResponse struct {
	Status  string `json:"status"`
	Sources int    `json:"sources"`
	History string `json:"history"`
}

// Health is degraded (503) when no adapter is configured or the history store fails.
func (h *PricesEchoHandler) Health(c echo.Context) error {
	res := healthResponse{Status: "ok", Sources: h.validator.SourceCount(), History: "ok"}
	if !h.validator.HistoryEnabled() {
		res.History = "disabled"
	} else if err := h.validator.Health(c.Request().Context()); err != nil {
		res.History = "error"
		res.Status = "degraded"
	}
	if res.Sources == 0 {
		res.Status = "degraded"
	}
	if res.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}
