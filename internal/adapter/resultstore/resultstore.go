// Package resultstore persists materialized query results with GORM.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/guillermoBallester/querygate/internal/core/port"
	"gorm.io/gorm"
)

// Record is the stored form of a materialized result. Headers and rows are
// kept as JSON so any column shape fits one table.
type Record struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	PrincipalID string    `gorm:"index;not null"`
	Title       string    `gorm:"not null"`
	Description string
	SQL         string    `gorm:"column:sql_text;not null"`
	Headers     string    `gorm:"type:text;not null"`
	Rows        string    `gorm:"type:text;not null"`
	RowCount    int       `gorm:"not null"`
	ColumnCount int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (Record) TableName() string { return "materialized_results" }

type Store struct {
	db *gorm.DB
}

// New migrates the results table and returns a Store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating materialized_results: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, r port.MaterializedResult) (string, error) {
	if r.Result == nil {
		return "", errors.New("saving result: no rows")
	}
	headers, err := json.Marshal(r.Result.Headers)
	if err != nil {
		return "", fmt.Errorf("encoding headers: %w", err)
	}
	rows, err := json.Marshal(r.Result.Rows)
	if err != nil {
		return "", fmt.Errorf("encoding rows: %w", err)
	}

	rec := Record{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		Title:       r.Title,
		Description: r.Description,
		SQL:         r.SQL,
		Headers:     string(headers),
		Rows:        string(rows),
		RowCount:    r.Result.RowCount,
		ColumnCount: r.Result.ColumnCount,
		CreatedAt:   r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to create materialized result: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (*port.MaterializedResult, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load materialized result: %w", err)
	}

	var headers []string
	if err := json.Unmarshal([]byte(rec.Headers), &headers); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}
	var rows [][]any
	if err := json.Unmarshal([]byte(rec.Rows), &rows); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}

	return &port.MaterializedResult{
		ID:          rec.ID,
		PrincipalID: rec.PrincipalID,
		Title:       rec.Title,
		Description: rec.Description,
		SQL:         rec.SQL,
		Result:      domain.NewTabularResult(headers, rows),
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// ListByPrincipal returns a principal's results, newest first, without rows.
func (s *Store) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]port.MaterializedResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	err := s.db.WithContext(ctx).
		Select("id", "principal_id", "title", "description", "sql_text", "row_count", "column_count", "created_at").
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list materialized results: %w", err)
	}

	out := make([]port.MaterializedResult, len(recs))
	for i, rec := range recs {
		out[i] = port.MaterializedResult{
			ID:          rec.ID,
			PrincipalID: rec.PrincipalID,
			Title:       rec.Title,
			Description: rec.Description,
			SQL:         rec.SQL,
			Result:      &domain.TabularResult{RowCount: rec.RowCount, ColumnCount: rec.ColumnCount},
			CreatedAt:   rec.CreatedAt,
		}
	}
	return out, nil
}
