package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ChargeFit/internal/domain/models"
	drepo "ChargeFit/internal/domain/repository"
	"ChargeFit/internal/fit"
	"ChargeFit/pkg/cache"
	applogger "ChargeFit/pkg/logger"
)

// Result sinks.
const (
	SinkClickHouse = "clickhouse"
	SinkKafka      = "kafka"
	SinkNone       = "none"
)

var (
	// ErrInvalidInput wraps every input rejection so transports can map it
	// to a client error.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersist marks a fit that was computed but could not be delivered
	// to the sink. The result returned alongside it is valid.
	ErrPersist = errors.New("persist fit results")
)

// FitSettings are the service-level defaults applied to requests that leave
// a knob unset.
type FitSettings struct {
	FilterOutliers bool
	OutlierSigma   float64
	Verbose        bool
	PixelSpacing   float64 // used when a request carries no spacing
	CacheTTL       time.Duration
	DedupTTL       time.Duration
}

func defaultFitSettings() FitSettings {
	return FitSettings{
		FilterOutliers: true,
		OutlierSigma:   fit.ConservativeThreshold,
		PixelSpacing:   1,
		CacheTTL:       10 * time.Minute,
		DedupTTL:       time.Hour,
	}
}

// FitService runs fits on behalf of the HTTP API and the hits consumer and
// routes the resulting records to the configured sink.
type FitService struct {
	fitter   *fit.Fitter
	metrics  drepo.Metrics
	cache    cache.Service
	store    drepo.ResultStore
	pub      drepo.ResultPublisher
	bc       drepo.Broadcaster
	sink     string
	settings FitSettings
	l        *applogger.Logger

	now   func() time.Time
	newID func() string
}

type FitServiceOption func(*FitService)

func WithResultCache(c cache.Service) FitServiceOption {
	return func(s *FitService) { s.cache = c }
}

func WithResultStore(st drepo.ResultStore) FitServiceOption {
	return func(s *FitService) { s.store = st }
}

func WithResultPublisher(p drepo.ResultPublisher) FitServiceOption {
	return func(s *FitService) { s.pub = p }
}

func WithBroadcaster(b drepo.Broadcaster) FitServiceOption {
	return func(s *FitService) { s.bc = b }
}

func WithSink(sink string) FitServiceOption {
	return func(s *FitService) { s.sink = sink }
}

func WithFitSettings(fs FitSettings) FitServiceOption {
	return func(s *FitService) {
		if fs.OutlierSigma <= 0 {
			fs.OutlierSigma = fit.ConservativeThreshold
		}
		if fs.PixelSpacing <= 0 {
			fs.PixelSpacing = 1
		}
		if fs.DedupTTL <= 0 {
			fs.DedupTTL = time.Hour
		}
		s.settings = fs
	}
}

func WithServiceLogger(l *applogger.Logger) FitServiceOption {
	return func(s *FitService) {
		if l != nil {
			s.l = l
		}
	}
}

func NewFitService(fitter *fit.Fitter, metrics drepo.Metrics, opts ...FitServiceOption) *FitService {
	s := &FitService{
		fitter:   fitter,
		metrics:  metrics,
		sink:     SinkNone,
		settings: defaultFitSettings(),
		l:        applogger.Nop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FitProfile fits a single 1-D profile.
func (s *FitService) FitProfile(ctx context.Context, req models.ProfileFitRequest) (fit.FitResult, error) {
	p := fit.Profile{Positions: req.Positions, Charges: req.Charges}
	if err := p.Validate(); err != nil {
		s.metrics.RecordError("invalid_profile")
		return fit.FitResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var res fit.FitResult
	key := s.cacheKey("profile", req)
	if s.cached(ctx, key, &res) {
		return res, nil
	}

	o := s.options(req.FilterOutliers, req.Verbose)
	start := time.Now()
	res = s.fitter.FitProfile(p, req.CenterEstimate, s.pitch(req.PixelSpacing), o)
	s.observe(models.KindProfile, res, time.Since(start))

	if err := s.persist(ctx, s.records("", fitEntry{models.KindProfile, res})); err != nil {
		return res, err
	}
	s.remember(ctx, key, res)
	return res, nil
}

// Fit2D fits the row and column through the center pixel.
func (s *FitService) Fit2D(ctx context.Context, req models.SamplesFitRequest) (fit.Result2D, error) {
	smp := fit.Samples{X: req.X, Y: req.Y, Charge: req.Charge}
	if err := smp.Validate(); err != nil {
		s.metrics.RecordError("invalid_samples")
		return fit.Result2D{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var res fit.Result2D
	key := s.cacheKey("2d", req)
	if s.cached(ctx, key, &res) {
		return res, nil
	}

	res = s.fit2D(smp, req.CenterX, req.CenterY, s.pitch(req.PixelSpacing), s.options(req.FilterOutliers, req.Verbose))
	recs := s.records(req.EventID,
		fitEntry{models.KindRow, res.X},
		fitEntry{models.KindColumn, res.Y},
	)
	if err := s.persist(ctx, recs); err != nil {
		return res, err
	}
	s.remember(ctx, key, res)
	return res, nil
}

// FitDiagonal fits both diagonals through the center pixel.
func (s *FitService) FitDiagonal(ctx context.Context, req models.SamplesFitRequest) (fit.DiagonalResult, error) {
	smp := fit.Samples{X: req.X, Y: req.Y, Charge: req.Charge}
	if err := smp.Validate(); err != nil {
		s.metrics.RecordError("invalid_samples")
		return fit.DiagonalResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var res fit.DiagonalResult
	key := s.cacheKey("diagonal", req)
	if s.cached(ctx, key, &res) {
		return res, nil
	}

	res = s.fitDiagonal(smp, req.CenterX, req.CenterY, s.pitch(req.PixelSpacing), s.options(req.FilterOutliers, req.Verbose))
	recs := s.records(req.EventID,
		fitEntry{models.KindDiagonalMain, res.MainX},
		fitEntry{models.KindDiagonalSecondary, res.SecondaryX},
	)
	if err := s.persist(ctx, recs); err != nil {
		return res, err
	}
	s.remember(ctx, key, res)
	return res, nil
}

// RemoveOutliers applies the sample-level outlier remover. Nothing is stored.
func (s *FitService) RemoveOutliers(_ context.Context, req models.OutlierRequest) (fit.OutlierRemovalResult, error) {
	smp := fit.Samples{X: req.X, Y: req.Y, Charge: req.Charge}
	if len(smp.X) != len(smp.Y) || len(smp.X) != len(smp.Charge) {
		s.metrics.RecordError("invalid_samples")
		return fit.OutlierRemovalResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, fit.ErrLengthMismatch)
	}
	enabled := req.Enabled == nil || *req.Enabled
	sigma := req.Sigma
	if sigma <= 0 {
		sigma = s.settings.OutlierSigma
	}
	res := fit.RemoveOutliers(smp, enabled, sigma)
	if res.OutliersRemoved > 0 {
		s.metrics.RecordOutliersRemoved(res.OutliersRemoved)
	}
	return res, nil
}

// FitHit runs the full per-event pipeline: outlier removal, row/column and
// diagonal fits. An event id seen before within DedupTTL is reported as a
// duplicate and not refitted.
func (s *FitService) FitHit(ctx context.Context, ev models.HitEvent) (*models.HitResult, error) {
	smp := fit.Samples{X: ev.X, Y: ev.Y, Charge: ev.Charge}
	if err := smp.Validate(); err != nil {
		s.metrics.RecordError("invalid_hit")
		return nil, fmt.Errorf("%w: event %s: %w", ErrInvalidInput, ev.EventID, err)
	}

	out := &models.HitResult{EventID: ev.EventID}
	lockKey := ""
	if s.cache != nil && ev.EventID != "" {
		key := cache.GenerateKey("hit", ev.EventID)
		ok, err := s.cache.TryLock(ctx, key, s.settings.DedupTTL)
		switch {
		case err != nil:
			s.l.Warn("hit dedup unavailable", applogger.String("event_id", ev.EventID), applogger.Error(err))
		case !ok:
			s.l.Debug("duplicate hit skipped", applogger.String("event_id", ev.EventID))
			out.Duplicate = true
			return out, nil
		default:
			lockKey = key
		}
	}

	o := s.options(ev.FilterOutliers, s.settings.Verbose)
	cleaned := fit.RemoveOutliers(smp, o.FilterOutliers, s.settings.OutlierSigma)
	if cleaned.OutliersRemoved > 0 {
		s.metrics.RecordOutliersRemoved(cleaned.OutliersRemoved)
	}
	out.OutliersRemoved = cleaned.OutliersRemoved

	pitch := s.pitch(ev.PixelSpacing)
	out.Grid = s.fit2D(cleaned.Samples, ev.CenterX, ev.CenterY, pitch, o)
	od := o
	od.SamplesCleaned = true
	out.Diagonal = s.fitDiagonal(cleaned.Samples, ev.CenterX, ev.CenterY, pitch, od)
	out.Diagonal.OutliersRemoved = cleaned.OutliersRemoved

	out.Records = s.records(ev.EventID,
		fitEntry{models.KindRow, out.Grid.X},
		fitEntry{models.KindColumn, out.Grid.Y},
		fitEntry{models.KindDiagonalMain, out.Diagonal.MainX},
		fitEntry{models.KindDiagonalSecondary, out.Diagonal.SecondaryX},
	)
	if err := s.persist(ctx, out.Records); err != nil {
		// Let a redelivery of the same event refit it.
		if lockKey != "" {
			if derr := s.cache.Delete(context.WithoutCancel(ctx), lockKey); derr != nil {
				s.l.Warn("hit lock release failed", applogger.String("event_id", ev.EventID), applogger.Error(derr))
			}
		}
		return out, err
	}
	return out, nil
}

// Query reads stored records. It needs the ClickHouse store.
func (s *FitService) Query(ctx context.Context, f models.FitFilter) ([]models.FitRecord, error) {
	if s.store == nil {
		return nil, errors.New("result store not configured")
	}
	recs, err := s.store.Query(ctx, f)
	if err != nil {
		s.metrics.RecordError("query")
		return nil, err
	}
	return recs, nil
}

func (s *FitService) fit2D(smp fit.Samples, cx, cy, pitch float64, o fit.FitOptions) fit.Result2D {
	start := time.Now()
	res := s.fitter.Fit2D(smp, cx, cy, pitch, o)
	d := time.Since(start) / 2
	s.observe(models.KindRow, res.X, d)
	s.observe(models.KindColumn, res.Y, d)
	return res
}

func (s *FitService) fitDiagonal(smp fit.Samples, cx, cy, pitch float64, o fit.FitOptions) fit.DiagonalResult {
	start := time.Now()
	res := s.fitter.FitDiagonal(smp, cx, cy, pitch, o)
	d := time.Since(start) / 2
	s.observe(models.KindDiagonalMain, res.MainX, d)
	s.observe(models.KindDiagonalSecondary, res.SecondaryX, d)
	if res.OutliersRemoved > 0 {
		s.metrics.RecordOutliersRemoved(res.OutliersRemoved)
	}
	return res
}

func (s *FitService) pitch(p float64) float64 {
	if p > 0 {
		return p
	}
	return s.settings.PixelSpacing
}

func (s *FitService) options(filter *bool, verbose bool) fit.FitOptions {
	o := fit.FitOptions{FilterOutliers: s.settings.FilterOutliers, Verbose: verbose || s.settings.Verbose}
	if filter != nil {
		o.FilterOutliers = *filter
	}
	return o
}

func (s *FitService) observe(kind models.FitKind, res fit.FitResult, d time.Duration) {
	s.metrics.RecordFit(string(kind), res.Success, d.Seconds())
	if !res.Success {
		return
	}
	s.metrics.RecordStrategy(res.Diagnostics.Dataset, res.Diagnostics.Config)
	if res.Diagnostics.CovarianceAttempt < 0 {
		s.metrics.RecordCovarianceFallback(string(kind))
	}
}

type fitEntry struct {
	kind models.FitKind
	res  fit.FitResult
}

func (s *FitService) records(eventID string, entries ...fitEntry) []models.FitRecord {
	now := s.now().UTC()
	recs := make([]models.FitRecord, len(entries))
	for i, e := range entries {
		recs[i] = models.FitRecord{
			ID:        s.newID(),
			EventID:   eventID,
			Kind:      e.kind,
			CreatedAt: now,
			Result:    e.res,
		}
	}
	return recs
}

// persist routes records to the configured sink, then to live subscribers.
func (s *FitService) persist(ctx context.Context, recs []models.FitRecord) error {
	if len(recs) == 0 {
		return nil
	}
	var err error
	switch s.sink {
	case SinkClickHouse:
		if s.store != nil {
			err = s.store.StoreBatch(ctx, recs)
		}
	case SinkKafka:
		if s.pub != nil {
			err = s.pub.PublishBatch(ctx, recs)
		}
	case SinkNone, "":
	default:
		err = fmt.Errorf("unknown sink: %s", s.sink)
	}
	if err != nil {
		s.metrics.RecordError("persist")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if s.bc != nil {
		for _, r := range recs {
			s.bc.Broadcast(r)
		}
	}
	return nil
}

func (s *FitService) cacheKey(kind string, req interface{}) string {
	if s.cache == nil {
		return ""
	}
	b, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	return cache.GenerateKey("fit", kind, cache.HashKey(b))
}

func (s *FitService) cached(ctx context.Context, key string, dest interface{}) bool {
	if key == "" {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.l.Warn("fit cache read", applogger.String("key", key), applogger.Error(err))
	}
	return err == nil
}

func (s *FitService) remember(ctx context.Context, key string, v interface{}) {
	if key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, v, s.settings.CacheTTL); err != nil {
		s.l.Warn("fit cache write", applogger.String("key", key), applogger.Error(err))
	}
}
