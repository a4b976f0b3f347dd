package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"ChargeFit/internal/domain/models"
	"ChargeFit/internal/fit"
	"ChargeFit/internal/service/ratelimit"
	"ChargeFit/internal/usecase"
	xhttp "ChargeFit/pkg/http"
	xlogger "ChargeFit/pkg/logger"
)

// FitUseCase is the part of usecase.FitService the HTTP API needs.
type FitUseCase interface {
	FitProfile(ctx context.Context, req models.ProfileFitRequest) (fit.FitResult, error)
	Fit2D(ctx context.Context, req models.SamplesFitRequest) (fit.Result2D, error)
	FitDiagonal(ctx context.Context, req models.SamplesFitRequest) (fit.DiagonalResult, error)
	RemoveOutliers(ctx context.Context, req models.OutlierRequest) (fit.OutlierRemovalResult, error)
	Query(ctx context.Context, f models.FitFilter) ([]models.FitRecord, error)
}

// HealthChecker reports backend health for /healthz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// FitEchoHandler serves the fit API.
type FitEchoHandler struct {
	logger *xlogger.Logger
	svc    FitUseCase
	rl     *ratelimit.Limiter
	health HealthChecker

	streamPath string
	stream     http.Handler
}

func NewFitEchoHandler(logger *xlogger.Logger, svc FitUseCase, rl *ratelimit.Limiter) *FitEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &FitEchoHandler{
		logger: logger,
		svc:    svc,
		rl:     rl,
	}
}

// SetHealth sets the backend probed by /healthz.
func (h *FitEchoHandler) SetHealth(hc HealthChecker) { h.health = hc }

// SetStream mounts the live fit stream at path.
func (h *FitEchoHandler) SetStream(path string, stream http.Handler) {
	h.streamPath, h.stream = path, stream
}

func (h *FitEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api", h.limit)
	g.POST("/fit/profile", h.FitProfile)
	g.POST("/fit/2d", h.Fit2D)
	g.POST("/fit/diagonal", h.FitDiagonal)
	g.POST("/outliers", h.RemoveOutliers)
	g.GET("/fits", h.ListFits)

	if h.stream != nil && h.streamPath != "" {
		e.GET(h.streamPath, echo.WrapHandler(h.stream))
	}
}

func (h *FitEchoHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("fit api rate limited", xlogger.String("remote", c.RealIP()))
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", http.StatusTooManyRequests))
		}
		return next(c)
	}
}

func (h *FitEchoHandler) FitProfile(c echo.Context) error {
	req := &models.ProfileFitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.FitProfile(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "fit profile", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FitEchoHandler) Fit2D(c echo.Context) error {
	req := &models.SamplesFitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Fit2D(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "fit 2d", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FitEchoHandler) FitDiagonal(c echo.Context) error {
	req := &models.SamplesFitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.FitDiagonal(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "fit diagonal", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FitEchoHandler) RemoveOutliers(c echo.Context) error {
	req := &models.OutlierRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.RemoveOutliers(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "remove outliers", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FitEchoHandler) ListFits(c echo.Context) error {
	q := &models.FitQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := models.FitFilter{EventID: q.EventID, Kind: models.FitKind(q.Kind), Limit: q.Limit}
	var ok bool
	if q.From != "" {
		if f.From, ok = xhttp.ParseTime(q.From); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from: %s", q.From))
		}
	}
	if q.To != "" {
		if f.To, ok = xhttp.ParseTime(q.To); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to: %s", q.To))
		}
	}
	recs, err := h.svc.Query(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, "list fits", err)
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *FitEchoHandler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Health(c.Request().Context()); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("result store unavailable").WithError(err))
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *FitEchoHandler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrInvalidInput) {
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError(err.Error()).WithError(err))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.UnavailableError(op+" failed").WithError(err))
}
