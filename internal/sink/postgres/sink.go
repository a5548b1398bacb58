// Package postgres delivers price batches to Postgres tables.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/database"
)

// Tables names the destination tables. Empty names fall back to defaults.
type Tables struct {
	Wholesale   string
	Retail      string
	Completions string
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

var priceColumns = []string{
	"source_id", "run_hash", "product", "country", "price_date", "type", "page_url",
	"unit", "currency", "price_min", "price_avg", "price_max",
	"region", "grade", "variety", "origin",
}

// Sink copies every batch into the table of its kind and records completions.
type Sink struct {
	pool   pool
	tables Tables
}

// New wraps an open pool (a *pgxpool.Pool in production).
func New(p pool, tables Tables) (*Sink, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	var err error
	if tables.Wholesale, err = database.TableName(tables.Wholesale, "price_data"); err != nil {
		return nil, err
	}
	if tables.Retail, err = database.TableName(tables.Retail, "price_merchandise"); err != nil {
		return nil, err
	}
	if tables.Completions, err = database.TableName(tables.Completions, "batch_completions"); err != nil {
		return nil, err
	}
	return &Sink{pool: p, tables: tables}, nil
}

// Close releases the pool.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// PushBatch bulk-copies the batch records.
func (s *Sink) PushBatch(ctx context.Context, batch crawler.Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	table, err := s.table(batch.Kind)
	if err != nil {
		return err
	}
	rows := make([][]any, 0, len(batch.Records))
	for _, r := range batch.Records {
		rows = append(rows, []any{
			batch.SourceID, batch.Hash, r.Product, r.Country, r.Date, r.Type, r.PageURL,
			r.Unit, r.Currency, r.Prices.Min, r.Prices.Avg, r.Prices.Max,
			nullable(r.Region), nullable(r.Grade), nullable(r.Variety), nullable(r.Origin),
		})
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, priceColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy %d prices into %s: %w", len(rows), table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}

// Complete records the end of a run.
func (s *Sink) Complete(ctx context.Context, c crawler.Completion) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source_id, run_hash, kind, price_date, completed_at)
VALUES ($1, $2, $3, $4, now())`, s.tables.Completions)
	if _, err := s.pool.Exec(ctx, query, c.SourceID, c.Hash, string(c.Kind), nullable(c.Date)); err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

func (s *Sink) table(kind crawler.Kind) (string, error) {
	switch kind {
	case crawler.KindWholesale:
		return s.tables.Wholesale, nil
	case crawler.KindRetail:
		return s.tables.Retail, nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
