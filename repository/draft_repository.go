package repository

import (
	"context"
	"errors"

	"caseintake-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDraftNotFound is returned when no draft is stored for a case id
var ErrDraftNotFound = errors.New("draft not found")

// DraftRepository handles database operations for case drafts
type DraftRepository struct {
	db *pgxpool.Pool
}

// NewDraftRepository creates a new draft repository
func NewDraftRepository(db *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{db: db}
}

// GetByCaseID retrieves the draft stored under caseID
func (r *DraftRepository) GetByCaseID(ctx context.Context, caseID string) (*models.DraftRecord, error) {
	record := &models.DraftRecord{}
	query := `
		SELECT case_id, data, digest, updated_at
		FROM case_drafts
		WHERE case_id = $1`

	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&record.CaseID,
		&record.Data,
		&record.Digest,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}

	return record, nil
}

// Upsert inserts or replaces the draft for record.CaseID
func (r *DraftRepository) Upsert(ctx context.Context, record *models.DraftRecord) error {
	query := `
		INSERT INTO case_drafts (case_id, data, digest, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (case_id) DO UPDATE SET
			data = EXCLUDED.data,
			digest = EXCLUDED.digest,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	return r.db.QueryRow(
		ctx, query,
		record.CaseID,
		record.Data,
		record.Digest,
		record.UpdatedAt,
	).Scan(&record.UpdatedAt)
}

// ListCaseIDs returns the most recently updated case ids
func (r *DraftRepository) ListCaseIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT case_id FROM case_drafts ORDER BY updated_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
