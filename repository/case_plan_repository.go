package repository

import (
	"context"
	"errors"

	"caseintake-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCasePlanNotFound is returned when a case has no stored plan
var ErrCasePlanNotFound = errors.New("case plan not found")

// CasePlanRepository handles database operations for generated case plans
type CasePlanRepository struct {
	db *pgxpool.Pool
}

// NewCasePlanRepository creates a new case plan repository
func NewCasePlanRepository(db *pgxpool.Pool) *CasePlanRepository {
	return &CasePlanRepository{db: db}
}

// Create stores a new case plan
func (r *CasePlanRepository) Create(ctx context.Context, record *models.CasePlanRecord) error {
	query := `
		INSERT INTO case_plans (id, case_id, plan, provider)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		record.ID,
		record.CaseID,
		record.Plan,
		record.Provider,
	).Scan(&record.CreatedAt)
}

// GetLatestByCaseID retrieves the most recent plan for a case
func (r *CasePlanRepository) GetLatestByCaseID(ctx context.Context, caseID string) (*models.CasePlanRecord, error) {
	record := &models.CasePlanRecord{}
	query := `
		SELECT id, case_id, plan, provider, created_at
		FROM case_plans
		WHERE case_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.QueryRow(ctx, query, caseID).Scan(
		&record.ID,
		&record.CaseID,
		&record.Plan,
		&record.Provider,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCasePlanNotFound
		}
		return nil, err
	}

	return record, nil
}
