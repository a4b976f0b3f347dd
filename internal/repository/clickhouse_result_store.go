package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ChargeFit/internal/domain/models"
	"ChargeFit/internal/fit"
	pkgch "ChargeFit/pkg/clickhouse"
	applogger "ChargeFit/pkg/logger"
)

const fitColumns = `id, event_id, kind, created_at,
	amplitude, center, gamma, beta, baseline,
	amplitude_err, center_err, gamma_err, beta_err, baseline_err,
	chi2_reduced, dof, pp, charge_uncertainty, success,
	dataset, config, estimate_method, two_stage, covariance_attempt, iterations, points, termination`

const numFitColumns = 27

// insertChunk bounds the number of rows per INSERT statement.
const insertChunk = 2000

// CHResultStore implements ResultStore backed by ClickHouse.
type CHResultStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHResultStore(ch *pkgch.Client, l *applogger.Logger) *CHResultStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHResultStore{
		db:    ch.DB(),
		table: ch.Database() + ".fit_results",
		l:     l,
	}
}

// SchemaStatements returns the DDL for database db.
func SchemaStatements(db string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + db,
		`CREATE TABLE IF NOT EXISTS ` + db + `.fit_results (
			id String,
			event_id String,
			kind LowCardinality(String),
			created_at DateTime64(3),
			amplitude Float64, center Float64, gamma Float64, beta Float64, baseline Float64,
			amplitude_err Float64, center_err Float64, gamma_err Float64, beta_err Float64, baseline_err Float64,
			chi2_reduced Float64,
			dof Int32,
			pp Float64,
			charge_uncertainty Float64,
			success Bool,
			dataset LowCardinality(String),
			config Int32,
			estimate_method LowCardinality(String),
			two_stage Bool,
			covariance_attempt Int32,
			iterations Int32,
			points Int32,
			termination String
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (kind, created_at, event_id)`,
	}
}

func (s *CHResultStore) Init(ctx context.Context) error {
	db := strings.TrimSuffix(s.table, ".fit_results")
	for _, stmt := range SchemaStatements(db) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init fit_results: %w", err)
		}
	}
	return nil
}

func (s *CHResultStore) StoreBatch(ctx context.Context, records []models.FitRecord) error {
	for start := 0; start < len(records); start += insertChunk {
		end := start + insertChunk
		if end > len(records) {
			end = len(records)
		}
		q, args := insertStatement(s.table, records[start:end])
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert fit_results",
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert fit results: %w", err)
		}
	}
	return nil
}

func insertStatement(table string, records []models.FitRecord) (string, []interface{}) {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", numFitColumns), ", ") + ")"
	values := make([]string, len(records))
	args := make([]interface{}, 0, len(records)*numFitColumns)
	for i, rec := range records {
		values[i] = placeholder
		r := rec.Result
		d := r.Diagnostics
		args = append(args,
			rec.ID, rec.EventID, string(rec.Kind), rec.CreatedAt,
			r.Amplitude, r.Center, r.Gamma, r.Beta, r.Baseline,
			r.AmplitudeErr, r.CenterErr, r.GammaErr, r.BetaErr, r.BaselineErr,
			r.ReducedChi2, int32(r.DOF), r.PValue, r.ChargeUncertainty, r.Success,
			d.Dataset, int32(d.Config), d.EstimateMethod.String(), d.TwoStage,
			int32(d.CovarianceAttempt), int32(d.Iterations), int32(d.Points), d.Termination,
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, fitColumns, strings.Join(values, ","))
	return q, args
}

func (s *CHResultStore) Query(ctx context.Context, f models.FitFilter) ([]models.FitRecord, error) {
	start := time.Now()
	q, args := selectStatement(s.table, f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query fit_results", applogger.Error(err))
		return nil, fmt.Errorf("query fit results: %w", err)
	}
	defer rows.Close()

	var out []models.FitRecord
	for rows.Next() {
		var (
			rec                                models.FitRecord
			kind, method                       string
			dof, cfg, covAttempt, iter, points int32
		)
		r := &rec.Result
		d := &r.Diagnostics
		if err := rows.Scan(
			&rec.ID, &rec.EventID, &kind, &rec.CreatedAt,
			&r.Amplitude, &r.Center, &r.Gamma, &r.Beta, &r.Baseline,
			&r.AmplitudeErr, &r.CenterErr, &r.GammaErr, &r.BetaErr, &r.BaselineErr,
			&r.ReducedChi2, &dof, &r.PValue, &r.ChargeUncertainty, &r.Success,
			&d.Dataset, &cfg, &method, &d.TwoStage, &covAttempt, &iter, &points, &d.Termination,
		); err != nil {
			return nil, fmt.Errorf("scan fit result: %w", err)
		}
		rec.Kind = models.FitKind(kind)
		r.DOF, d.Config, d.CovarianceAttempt, d.Iterations, d.Points = int(dof), int(cfg), int(covAttempt), int(iter), int(points)
		var em fit.EstimateMethod
		_ = em.UnmarshalText([]byte(method))
		d.EstimateMethod = em
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	s.l.Debug("clickhouse query fit_results ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func selectStatement(table string, f models.FitFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, f.EventID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", fitColumns, table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, limit)
	return b.String(), args
}

func (s *CHResultStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
