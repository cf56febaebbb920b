package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recruitly/cvsync/internal/model"
)

// ErrCandidateNotFound is returned when the owning candidate row is missing.
var ErrCandidateNotFound = errors.New("candidate not found")

// CandidateRepository reads the minimal profile columns the CRM payload needs.
type CandidateRepository struct {
	pool *pgxpool.Pool
}

// NewCandidateRepository constructs a repository.
func NewCandidateRepository(pool *pgxpool.Pool) *CandidateRepository {
	return &CandidateRepository{pool: pool}
}

// Profile returns a candidate's CRM-facing profile fields.
func (r *CandidateRepository) Profile(ctx context.Context, id string) (*model.CandidateProfile, error) {
	var p model.CandidateProfile
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, COALESCE(phone,'')
		FROM candidates WHERE id=$1
	`, id)
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCandidateNotFound
		}
		return nil, fmt.Errorf("select candidate: %w", err)
	}
	return &p, nil
}
