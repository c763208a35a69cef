package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	pkgch "FxGuard/pkg/clickhouse"
	"FxGuard/pkg/logger"
)

// ClickHouseValidationStore appends one audit row per fetched validation outcome.
type ClickHouseValidationStore struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	log    *logger.Logger
}

var _ domrepo.ValidationStore = (*ClickHouseValidationStore)(nil)

func NewClickHouseValidationStore(client *pkgch.Client, log *logger.Logger) *ClickHouseValidationStore {
	return &ClickHouseValidationStore{
		client: client,
		db:     client.DB(),
		table:  client.Database() + "." + pkgch.ValidationTable,
		log:    log.With("validation_store"),
	}
}

func (s *ClickHouseValidationStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, pkgch.ValidationSchema(s.client.Database()))
}

func (s *ClickHouseValidationStore) Save(ctx context.Context, rec models.ValidationRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (event_id, validated_at, pair, consensus_price, sources_count, variance, is_valid, reason, sources) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	var valid uint8
	if rec.IsValid {
		valid = 1
	}
	ts := rec.ValidatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, q,
		uuid.New(),
		ts,
		rec.Pair.String(),
		rec.ConsensusPrice,
		uint8(rec.SourcesCount),
		rec.Variance,
		valid,
		rec.Reason,
		sources,
	); err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

// Recent returns up to limit rows for pair, newest first.
func (s *ClickHouseValidationStore) Recent(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.ValidationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`SELECT validated_at, pair, consensus_price, sources_count, variance, is_valid, reason, sources
FROM %s
WHERE pair = ?
ORDER BY validated_at DESC
LIMIT ?`, s.table)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, pair.String(), limit)
	if err != nil {
		s.log.Error("clickhouse recent query error", logger.String("pair", pair.String()), logger.Error(err))
		return nil, fmt.Errorf("query validations: %w", err)
	}
	defer rows.Close()

	out := make([]models.ValidationRecord, 0, limit)
	for rows.Next() {
		var (
			rec     models.ValidationRecord
			p       string
			count   uint8
			valid   uint8
			sources []string
		)
		if err := rows.Scan(&rec.ValidatedAt, &p, &rec.ConsensusPrice, &count, &rec.Variance, &valid, &rec.Reason, &sources); err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		rec.Pair = models.CurrencyPair(p)
		rec.SourcesCount = int(count)
		rec.IsValid = valid == 1
		rec.Sources = sources
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validations: %w", err)
	}

	s.log.Debug("clickhouse recent ok",
		logger.String("pair", pair.String()),
		logger.Int("rows", len(out)),
		logger.Duration("took_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseValidationStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseValidationStore) Close() error {
	return s.client.Close()
}
