package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"churn-risk-alerts/internal/insight"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no insight matched the lookup.
	ErrNotFound = errors.New("storage: insight not found")
)

const (
	insertInsightSQL = `INSERT INTO insights (
        entity_id,
        created_at,
        prediction_type,
        risk_score,
        explanation,
        recommendations,
        model_used,
        confidence,
        source,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	latestByEntitySQL = `SELECT
        entity_id, created_at, prediction_type, risk_score, explanation,
        recommendations, model_used, confidence, source
    FROM insights
    WHERE entity_id = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	listByEntitySQL = `SELECT
        entity_id, created_at, prediction_type, risk_score, explanation,
        recommendations, model_used, confidence, source
    FROM insights
    WHERE entity_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	listByTypeBetweenSQL = `SELECT
        entity_id, created_at, prediction_type, risk_score, explanation,
        recommendations, model_used, confidence, source
    FROM insights
    WHERE prediction_type = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at;`

	listRecentSQL = `SELECT
        entity_id, created_at, prediction_type, risk_score, explanation,
        recommendations, model_used, confidence, source
    FROM insights
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteExpiredSQL = `DELETE FROM insights WHERE expires_at < $1;`
)

// InsightStore defines the persistence contract for insight records. The
// pipeline only appends; queries serve the CLI and downstream consumers.
type InsightStore interface {
	InsertInsight(ctx context.Context, ins insight.Insight, ttl time.Duration) error
	LatestByEntity(ctx context.Context, entityID string) (insight.Insight, error)
	ListByEntity(ctx context.Context, entityID string, limit int) ([]insight.Insight, error)
	ListByTypeBetween(ctx context.Context, pt insight.PredictionType, from, to time.Time) ([]insight.Insight, error)
	ListRecent(ctx context.Context, limit int) ([]insight.Insight, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is the pgx-backed insight repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertInsight appends one insight with its TTL expiry.
func (s *Store) InsertInsight(ctx context.Context, ins insight.Insight, ttl time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	expiresAt := ins.Timestamp.Add(ttl)
	_, err = pool.Exec(ctx, insertInsightSQL,
		ins.EntityID,
		ins.Timestamp,
		string(ins.PredictionType),
		ins.RiskScore,
		ins.Explanation,
		ins.Recommendations,
		ins.ModelUsed,
		ins.Confidence,
		string(ins.Source),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// LatestByEntity returns the most recent insight for an entity.
func (s *Store) LatestByEntity(ctx context.Context, entityID string) (insight.Insight, error) {
	pool, err := s.getPool()
	if err != nil {
		return insight.Insight{}, err
	}

	row := pool.QueryRow(ctx, latestByEntitySQL, entityID)
	ins, err := scanInsight(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return insight.Insight{}, ErrNotFound
	}
	return ins, err
}

// ListByEntity returns recent insights for one entity, newest first.
func (s *Store) ListByEntity(ctx context.Context, entityID string, limit int) ([]insight.Insight, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := pool.Query(ctx, listByEntitySQL, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list insights by entity: %w", err)
	}
	defer rows.Close()
	return collectInsights(rows)
}

// ListByTypeBetween returns insights of one prediction type in a time range.
func (s *Store) ListByTypeBetween(ctx context.Context, pt insight.PredictionType, from, to time.Time) ([]insight.Insight, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listByTypeBetweenSQL, string(pt), from, to)
	if err != nil {
		return nil, fmt.Errorf("list insights by type: %w", err)
	}
	defer rows.Close()
	return collectInsights(rows)
}

// ListRecent returns the newest insights across all entities.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]insight.Insight, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := pool.Query(ctx, listRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent insights: %w", err)
	}
	defer rows.Close()
	return collectInsights(rows)
}

// DeleteExpired removes insights whose TTL has elapsed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tag, err := pool.Exec(ctx, deleteExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired insights: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(row rowScanner) (insight.Insight, error) {
	var (
		ins      insight.Insight
		predType string
		source   string
		recs     []string
	)
	err := row.Scan(
		&ins.EntityID,
		&ins.Timestamp,
		&predType,
		&ins.RiskScore,
		&ins.Explanation,
		&recs,
		&ins.ModelUsed,
		&ins.Confidence,
		&source,
	)
	if err != nil {
		return insight.Insight{}, err
	}
	ins.PredictionType = insight.PredictionType(predType)
	ins.Source = insight.Source(source)
	ins.Recommendations = recs
	return ins, nil
}

func collectInsights(rows pgx.Rows) ([]insight.Insight, error) {
	var out []insight.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

var _ InsightStore = (*Store)(nil)
