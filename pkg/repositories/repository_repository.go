// Package repositories contains the PostgreSQL data access layer.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/octorules/engine/pkg/apperrors"
	"github.com/octorules/engine/pkg/database"
	"github.com/octorules/engine/pkg/models"
)

// RepositoryRepository defines data access for tracked GitHub repositories.
type RepositoryRepository interface {
	// Upsert inserts or refreshes a repository keyed by its GitHub ID.
	// Returns true when a new row was created.
	Upsert(ctx context.Context, repo *models.Repository) (bool, error)
	Get(ctx context.Context, id int64) (*models.Repository, error)
	GetByFullName(ctx context.Context, fullName string) (*models.Repository, error)
	List(ctx context.Context, activeOnly bool) ([]models.Repository, error)
	// SetLastSyncedAt advances the sync checkpoint.
	SetLastSyncedAt(ctx context.Context, id int64, t time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	// Delete removes a repository; dependent rows cascade.
	Delete(ctx context.Context, id int64) error
}

type repositoryRepository struct {
	db *database.DB
}

// NewRepositoryRepository creates a new repository store.
func NewRepositoryRepository(db *database.DB) RepositoryRepository {
	return &repositoryRepository{db: db}
}

var _ RepositoryRepository = (*repositoryRepository)(nil)

const repositoryColumns = `id, github_id, name, full_name, owner_login, html_url,
	description, language, is_active, last_synced_at, created_at, updated_at`

func (r *repositoryRepository) Upsert(ctx context.Context, repo *models.Repository) (bool, error) {
	query := `
		INSERT INTO repositories (github_id, name, full_name, owner_login, html_url, description, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (github_id) DO UPDATE
		SET name = EXCLUDED.name,
		    full_name = EXCLUDED.full_name,
		    owner_login = EXCLUDED.owner_login,
		    html_url = EXCLUDED.html_url,
		    description = EXCLUDED.description,
		    language = EXCLUDED.language,
		    updated_at = NOW()
		RETURNING id, (xmax = 0) AS created`

	var created bool
	err := r.db.QueryRow(ctx, query,
		repo.GitHubID,
		repo.Name,
		repo.FullName,
		repo.OwnerLogin,
		repo.HTMLURL,
		repo.Description,
		repo.Language,
	).Scan(&repo.ID, &created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert repository: %w", err)
	}

	return created, nil
}

func (r *repositoryRepository) Get(ctx context.Context, id int64) (*models.Repository, error) {
	query := fmt.Sprintf(`SELECT %s FROM repositories WHERE id = $1`, repositoryColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *repositoryRepository) GetByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	query := fmt.Sprintf(`SELECT %s FROM repositories WHERE full_name = $1`, repositoryColumns)
	return r.scanOne(r.db.QueryRow(ctx, query, fullName))
}

func (r *repositoryRepository) scanOne(row pgx.Row) (*models.Repository, error) {
	var repo models.Repository
	err := row.Scan(
		&repo.ID,
		&repo.GitHubID,
		&repo.Name,
		&repo.FullName,
		&repo.OwnerLogin,
		&repo.HTMLURL,
		&repo.Description,
		&repo.Language,
		&repo.IsActive,
		&repo.LastSyncedAt,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return &repo, nil
}

func (r *repositoryRepository) List(ctx context.Context, activeOnly bool) ([]models.Repository, error) {
	query := fmt.Sprintf(`SELECT %s FROM repositories`, repositoryColumns)
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY full_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var repo models.Repository
		if err := rows.Scan(
			&repo.ID,
			&repo.GitHubID,
			&repo.Name,
			&repo.FullName,
			&repo.OwnerLogin,
			&repo.HTMLURL,
			&repo.Description,
			&repo.Language,
			&repo.IsActive,
			&repo.LastSyncedAt,
			&repo.CreatedAt,
			&repo.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

func (r *repositoryRepository) SetLastSyncedAt(ctx context.Context, id int64, t time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE repositories SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`, id, t)
	if err != nil {
		return fmt.Errorf("failed to set last_synced_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *repositoryRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE repositories SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set is_active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *repositoryRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
