package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"ChargeFit/internal/domain/models"
	"ChargeFit/internal/fit"
	"ChargeFit/internal/service/ratelimit"
	"ChargeFit/internal/usecase"
)

type stubFitUseCase struct {
	profileErr error
	filter     models.FitFilter
	profileReq models.ProfileFitRequest
	outlierReq models.OutlierRequest
}

func (s *stubFitUseCase) FitProfile(_ context.Context, req models.ProfileFitRequest) (fit.FitResult, error) {
	s.profileReq = req
	return fit.FitResult{Amplitude: 9, Gamma: 1, Beta: 1, Baseline: 1, Success: true}, s.profileErr
}

func (s *stubFitUseCase) Fit2D(_ context.Context, req models.SamplesFitRequest) (fit.Result2D, error) {
	return fit.Result2D{Success: true}, nil
}

func (s *stubFitUseCase) FitDiagonal(_ context.Context, req models.SamplesFitRequest) (fit.DiagonalResult, error) {
	return fit.DiagonalResult{}, fmt.Errorf("%w: too few", usecase.ErrInvalidInput)
}

func (s *stubFitUseCase) RemoveOutliers(_ context.Context, req models.OutlierRequest) (fit.OutlierRemovalResult, error) {
	s.outlierReq = req
	return fit.OutlierRemovalResult{Success: true}, nil
}

func (s *stubFitUseCase) Query(_ context.Context, f models.FitFilter) ([]models.FitRecord, error) {
	s.filter = f
	return []models.FitRecord{{ID: "r1", Kind: models.KindRow}}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func newTestEcho(svc FitUseCase, rl *ratelimit.Limiter) (*echo.Echo, *FitEchoHandler) {
	h := NewFitEchoHandler(nil, svc, rl)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, h
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const profileBody = `{"positions":[-2,-1,0,1,2],"charges":[1,4,10,4,1]}`

func TestFitProfileEndpoint(t *testing.T) {
	svc := &stubFitUseCase{}
	e, _ := newTestEcho(svc, nil)

	rec := do(e, http.MethodPost, "/api/fit/profile", profileBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Status int           `json:"status"`
		Data   fit.FitResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !env.Data.Success || env.Data.Amplitude != 9 {
		t.Errorf("data: %+v", env.Data)
	}
	if svc.profileReq.PixelSpacing != 1 {
		t.Errorf("pixel spacing default not applied: %g", svc.profileReq.PixelSpacing)
	}
}

func TestFitProfileValidation(t *testing.T) {
	e, _ := newTestEcho(&stubFitUseCase{}, nil)
	rec := do(e, http.MethodPost, "/api/fit/profile", `{"positions":[1,2],"charges":[1,2]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "positions") {
		t.Errorf("body does not name the field: %s", rec.Body.String())
	}
}

func TestInvalidInputMapsTo422(t *testing.T) {
	e, _ := newTestEcho(&stubFitUseCase{}, nil)
	body := `{"x":[0,1,2,3,4],"y":[0,1,2,3,4],"charge":[1,2,3,2,1]}`
	rec := do(e, http.MethodPost, "/api/fit/diagonal", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUsecaseFailureMapsTo503(t *testing.T) {
	e, _ := newTestEcho(&stubFitUseCase{profileErr: errors.New("kafka down")}, nil)
	rec := do(e, http.MethodPost, "/api/fit/profile", profileBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", rec.Code)
	}
}

func TestRemoveOutliersDefaults(t *testing.T) {
	svc := &stubFitUseCase{}
	e, _ := newTestEcho(svc, nil)
	rec := do(e, http.MethodPost, "/api/outliers", `{"x":[1],"y":[1],"charge":[1]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if svc.outlierReq.Enabled == nil || !*svc.outlierReq.Enabled || svc.outlierReq.Sigma != 2.5 {
		t.Errorf("defaults: %+v", svc.outlierReq)
	}

	svc = &stubFitUseCase{}
	e, _ = newTestEcho(svc, nil)
	do(e, http.MethodPost, "/api/outliers", `{"x":[1],"y":[1],"charge":[1],"enabled":false}`)
	if svc.outlierReq.Enabled == nil || *svc.outlierReq.Enabled {
		t.Error("explicit false must survive defaults")
	}
}

func TestListFitsQuery(t *testing.T) {
	svc := &stubFitUseCase{}
	e, _ := newTestEcho(svc, nil)

	rec := do(e, http.MethodGet, "/api/fits?event_id=e1&kind=row&from=2024-10-10T10:10:10Z&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if svc.filter.EventID != "e1" || svc.filter.Kind != models.KindRow || svc.filter.Limit != 5 || !svc.filter.From.Equal(want) {
		t.Errorf("filter: %+v", svc.filter)
	}

	if rec := do(e, http.MethodGet, "/api/fits?kind=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: status %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/fits?from=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad from: status %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e, _ := newTestEcho(&stubFitUseCase{}, ratelimit.New(1, 0.001))
	if rec := do(e, http.MethodPost, "/api/fit/profile", profileBody); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/fit/profile", profileBody); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e, h := newTestEcho(&stubFitUseCase{}, nil)
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("no backend: %d", rec.Code)
	}
	h.SetHealth(stubHealth{err: errors.New("down")})
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy backend: %d", rec.Code)
	}
}
