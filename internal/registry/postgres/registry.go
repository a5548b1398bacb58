// Package postgres keeps source identities and alarms in Postgres.
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

// Tables names the registry tables. Empty names fall back to defaults.
type Tables struct {
	Sources string
	Alarms  string
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Registry upserts sources by name and inserts alarms.
type Registry struct {
	pool   pool
	tables Tables
}

// New wraps an open pool (a *pgxpool.Pool in production).
func New(p pool, tables Tables) (*Registry, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	var err error
	if tables.Sources, err = database.TableName(tables.Sources, "sources"); err != nil {
		return nil, err
	}
	if tables.Alarms, err = database.TableName(tables.Alarms, "alarms"); err != nil {
		return nil, err
	}
	return &Registry{pool: p, tables: tables}, nil
}

// Close releases the pool.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// CreateOrUpdateSource upserts the source row keyed by name and returns its id.
func (r *Registry) CreateOrUpdateSource(ctx context.Context, meta crawler.SourceMetadata) (crawler.Source, error) {
	if meta.Name == "" {
		return crawler.Source{}, errors.New("source name is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, country, language, currency, description, url, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (name) DO UPDATE SET
	country = EXCLUDED.country,
	language = EXCLUDED.language,
	currency = EXCLUDED.currency,
	description = EXCLUDED.description,
	url = EXCLUDED.url,
	updated_at = EXCLUDED.updated_at
RETURNING id::text`, r.tables.Sources)

	var id string
	err := r.pool.QueryRow(ctx, query,
		meta.Name, meta.Country, meta.Language, meta.Currency, meta.Description, meta.URL,
	).Scan(&id)
	if err != nil {
		return crawler.Source{}, fmt.Errorf("upsert source %s: %w", meta.Name, err)
	}
	return crawler.Source{ID: id, Name: meta.Name}, nil
}

// CreateAlarm inserts an alarm row.
func (r *Registry) CreateAlarm(ctx context.Context, alarm crawler.Alarm) error {
	query := fmt.Sprintf(`
INSERT INTO %s (source_id, message, url, price_date, created_at)
VALUES ($1, $2, $3, $4, now())`, r.tables.Alarms)
	var date any
	if alarm.Date != "" {
		date = alarm.Date
	}
	if _, err := r.pool.Exec(ctx, query, alarm.SourceID, alarm.Message, alarm.URL, date); err != nil {
		return fmt.Errorf("insert alarm: %w", err)
	}
	return nil
}
