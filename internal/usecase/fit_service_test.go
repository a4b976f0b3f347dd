package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ChargeFit/internal/domain/models"
	"ChargeFit/internal/fit"
	"ChargeFit/pkg/cache"
)

type fakeMetrics struct {
	mu        sync.Mutex
	fits      map[string]int
	errors    map[string]int
	outliers  int
	strategy  int
	fallbacks int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{fits: map[string]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) RecordFit(kind string, _ bool, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fits[kind]++
}

func (m *fakeMetrics) RecordStrategy(string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy++
}

func (m *fakeMetrics) RecordCovarianceFallback(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *fakeMetrics) RecordOutliersRemoved(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outliers += n
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

type fakeStore struct {
	stored []models.FitRecord
	err    error
}

func (s *fakeStore) Init(context.Context) error { return nil }
func (s *fakeStore) StoreBatch(_ context.Context, recs []models.FitRecord) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, recs...)
	return nil
}
func (s *fakeStore) Query(_ context.Context, f models.FitFilter) ([]models.FitRecord, error) {
	var out []models.FitRecord
	for _, r := range s.stored {
		if f.Kind == "" || r.Kind == f.Kind {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *fakeStore) Health(context.Context) error { return nil }

type fakePublisher struct{ published []models.FitRecord }

func (p *fakePublisher) PublishBatch(_ context.Context, recs []models.FitRecord) error {
	p.published = append(p.published, recs...)
	return nil
}

type fakeBroadcaster struct{ got []models.FitRecord }

func (b *fakeBroadcaster) Broadcast(r models.FitRecord) { b.got = append(b.got, r) }

var testParams = []float64{100, 0, 1.2, 1, 2}

// cross lays one row along y=0 and one column along x=0.
func cross() (x, y, q []float64) {
	for i := -5; i <= 5; i++ {
		v := float64(i)
		x, y, q = append(x, v), append(y, 0), append(q, fit.PowerLorentzian(v, testParams))
		if i != 0 {
			x, y, q = append(x, 0), append(y, v), append(q, fit.PowerLorentzian(v, testParams))
		}
	}
	return x, y, q
}

func newTestService(opts ...FitServiceOption) (*FitService, *fakeMetrics) {
	m := newFakeMetrics()
	s := NewFitService(fit.New(), m, opts...)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, m
}

func TestFitProfileStoresAndCaches(t *testing.T) {
	store := &fakeStore{}
	bc := &fakeBroadcaster{}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s, m := newTestService(WithSink(SinkClickHouse), WithResultStore(store), WithBroadcaster(bc), WithResultCache(mc))

	var req models.ProfileFitRequest
	for i := 0; i < 20; i++ {
		req.Positions = append(req.Positions, float64(i))
		req.Charges = append(req.Charges, fit.PowerLorentzian(float64(i), []float64{100, 5, 1.2, 1, 2}))
	}
	off := false
	req.CenterEstimate, req.PixelSpacing, req.FilterOutliers = 5, 1, &off

	res, err := s.FitProfile(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("fit failed: %+v", res)
	}
	if len(store.stored) != 1 || store.stored[0].Kind != models.KindProfile || store.stored[0].ID != "id-1" {
		t.Fatalf("stored: %+v", store.stored)
	}
	if len(bc.got) != 1 {
		t.Errorf("broadcast count: %d", len(bc.got))
	}

	again, err := s.FitProfile(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if again.Center != res.Center || len(store.stored) != 1 {
		t.Errorf("second call should be served from cache")
	}
	if m.fits["profile"] != 1 {
		t.Errorf("fits recorded: %d", m.fits["profile"])
	}
}

func TestFitProfileRejectsInvalid(t *testing.T) {
	s, m := newTestService()
	_, err := s.FitProfile(context.Background(), models.ProfileFitRequest{
		Positions: []float64{1, 2, 3},
		Charges:   []float64{1, 2},
	})
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, fit.ErrLengthMismatch) {
		t.Errorf("got %v", err)
	}
	if m.errors["invalid_profile"] != 1 {
		t.Error("error metric not recorded")
	}
}

func TestFit2DPublishesToKafkaSink(t *testing.T) {
	pub := &fakePublisher{}
	s, m := newTestService(WithSink(SinkKafka), WithResultPublisher(pub))
	x, y, q := cross()
	off := false

	res, err := s.Fit2D(context.Background(), models.SamplesFitRequest{EventID: "e1", X: x, Y: y, Charge: q, PixelSpacing: 1, FilterOutliers: &off})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("2-D fit failed: %+v", res)
	}
	if len(pub.published) != 2 {
		t.Fatalf("published %d records", len(pub.published))
	}
	if pub.published[0].Kind != models.KindRow || pub.published[1].Kind != models.KindColumn {
		t.Errorf("kinds: %s %s", pub.published[0].Kind, pub.published[1].Kind)
	}
	if pub.published[0].EventID != "e1" {
		t.Errorf("event id: %q", pub.published[0].EventID)
	}
	if m.fits["row"] != 1 || m.fits["column"] != 1 || m.strategy != 2 {
		t.Errorf("metrics: %+v strategy=%d", m.fits, m.strategy)
	}
}

func TestPersistFailureIsReported(t *testing.T) {
	store := &fakeStore{err: errors.New("down")}
	bc := &fakeBroadcaster{}
	s, m := newTestService(WithSink(SinkClickHouse), WithResultStore(store), WithBroadcaster(bc))
	x, y, q := cross()

	_, err := s.Fit2D(context.Background(), models.SamplesFitRequest{X: x, Y: y, Charge: q, PixelSpacing: 1})
	if err == nil {
		t.Fatal("expected persist error")
	}
	if len(bc.got) != 0 {
		t.Error("nothing should be broadcast when persisting fails")
	}
	if m.errors["persist"] != 1 {
		t.Error("persist error not recorded")
	}
}

func TestFitHitDeduplicates(t *testing.T) {
	store := &fakeStore{}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s, _ := newTestService(WithSink(SinkClickHouse), WithResultStore(store), WithResultCache(mc))
	x, y, q := cross()
	ev := models.HitEvent{EventID: "evt-7", X: x, Y: y, Charge: q, PixelSpacing: 1}

	first, err := s.FitHit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if first.Duplicate || len(first.Records) != 4 {
		t.Fatalf("first: duplicate=%v records=%d", first.Duplicate, len(first.Records))
	}
	kinds := []models.FitKind{models.KindRow, models.KindColumn, models.KindDiagonalMain, models.KindDiagonalSecondary}
	for i, k := range kinds {
		if first.Records[i].Kind != k {
			t.Errorf("record %d kind %s, want %s", i, first.Records[i].Kind, k)
		}
	}

	second, err := s.FitHit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate || len(store.stored) != 4 {
		t.Errorf("second: duplicate=%v stored=%d", second.Duplicate, len(store.stored))
	}
}

func TestFitHitRetriesAfterPersistFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("down")}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s, _ := newTestService(WithSink(SinkClickHouse), WithResultStore(store), WithResultCache(mc))
	x, y, q := cross()
	ev := models.HitEvent{EventID: "evt-9", X: x, Y: y, Charge: q, PixelSpacing: 1}

	if _, err := s.FitHit(context.Background(), ev); !errors.Is(err, ErrPersist) {
		t.Fatalf("first attempt: expected persist error, got %v", err)
	}

	store.err = nil
	retry, err := s.FitHit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if retry.Duplicate {
		t.Fatal("a failed attempt must not mark the event as seen")
	}
	if len(store.stored) != 4 {
		t.Errorf("stored %d records, want 4", len(store.stored))
	}

	again, err := s.FitHit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate {
		t.Error("a stored event should be deduplicated")
	}
}

func TestFitHitRemovesOutliersOnce(t *testing.T) {
	// A second MAD pass over the cleaned charges would also drop the 14.
	charges := []float64{100, 9, 100, 9.5, 10, 14, 10, 10.5, 11, 100, 100}
	var ev models.HitEvent
	for i, c := range charges {
		v := float64(i - 5)
		ev.X = append(ev.X, v)
		ev.Y = append(ev.Y, v)
		ev.Charge = append(ev.Charge, c)
	}
	ev.EventID = "evt-3"
	ev.PixelSpacing = 1

	once := fit.RemoveOutliers(fit.Samples{X: ev.X, Y: ev.Y, Charge: ev.Charge}, true, fit.ConservativeThreshold)
	twice := fit.RemoveOutliers(once.Samples, true, fit.ConservativeThreshold)
	if once.OutliersRemoved != 4 || twice.OutliersRemoved != 1 {
		t.Fatalf("fixture: passes removed %d then %d", once.OutliersRemoved, twice.OutliersRemoved)
	}

	s, m := newTestService()
	out, err := s.FitHit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if out.OutliersRemoved != 4 || out.Diagonal.OutliersRemoved != 4 {
		t.Errorf("removed: hit %d, diagonal %d, want 4", out.OutliersRemoved, out.Diagonal.OutliersRemoved)
	}
	if m.outliers != 4 {
		t.Errorf("metrics counted %d removed outliers, want 4", m.outliers)
	}
	if out.Diagonal.Main.Len() != 7 {
		t.Errorf("main diagonal has %d samples, want all 7 cleaned ones", out.Diagonal.Main.Len())
	}
}

func TestRemoveOutliersDefaults(t *testing.T) {
	s, _ := newTestService()
	x, y, q := cross()
	off := false

	res, err := s.RemoveOutliers(context.Background(), models.OutlierRequest{X: x, Y: y, Charge: q, Enabled: &off})
	if err != nil {
		t.Fatal(err)
	}
	if res.FilteringApplied || res.Samples.Len() != len(x) {
		t.Errorf("disabled remover changed data: %+v", res)
	}

	if _, err := s.RemoveOutliers(context.Background(), models.OutlierRequest{X: x, Y: y[:3], Charge: q}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("length mismatch: %v", err)
	}
}

func TestOptionsResolveFilterFlag(t *testing.T) {
	s, _ := newTestService(WithFitSettings(FitSettings{FilterOutliers: true}))
	if !s.options(nil, false).FilterOutliers {
		t.Error("nil flag should use the service default")
	}
	off := false
	if s.options(&off, false).FilterOutliers {
		t.Error("explicit false should win")
	}
	if s.settings.OutlierSigma != fit.ConservativeThreshold {
		t.Errorf("sigma default: %g", s.settings.OutlierSigma)
	}
	if s.pitch(0) != 1 || s.pitch(0.5) != 0.5 {
		t.Errorf("pitch: %g %g", s.pitch(0), s.pitch(0.5))
	}
}

func TestQueryWithoutStore(t *testing.T) {
	s, _ := newTestService()
	if _, err := s.Query(context.Background(), models.FitFilter{}); err == nil {
		t.Error("expected error without a store")
	}
}
