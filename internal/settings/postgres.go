package settings

import (
	"context"
	"fmt"

	"qms/queueflow-service/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS counter_settings (
			counter_id INT PRIMARY KEY,
			allowed_categories TEXT[] NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.CounterConfig, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counter_id, allowed_categories
		FROM counter_settings
		ORDER BY counter_id
	`)
	if err != nil {
		return nil, false, fmt.Errorf("query counter settings: %w", err)
	}
	defer rows.Close()

	var configs []models.CounterConfig
	for rows.Next() {
		var cfg models.CounterConfig
		var categories []string
		if err := rows.Scan(&cfg.CounterID, &categories); err != nil {
			return nil, false, err
		}
		cfg.AllowedCategories = make([]models.Category, 0, len(categories))
		for _, category := range categories {
			cfg.AllowedCategories = append(cfg.AllowedCategories, models.Category(category))
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return configs, len(configs) > 0, nil
}

// Save replaces the stored configuration in one transaction.
func (s *PostgresStore) Save(ctx context.Context, configs []models.CounterConfig) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM counter_settings`); err != nil {
		return err
	}
	for _, cfg := range configs {
		categories := make([]string, 0, len(cfg.AllowedCategories))
		for _, category := range cfg.AllowedCategories {
			categories = append(categories, string(category))
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO counter_settings (counter_id, allowed_categories, updated_at)
			VALUES ($1, $2, now())
		`, cfg.CounterID, categories); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
