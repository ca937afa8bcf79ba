package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-request-api/internal/models"
)

// UserRepository provides read access to users and their faculty links.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, active, created_at, updated_at FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListActiveIDsByRoles returns ids of active users holding any of the roles,
// restricted to staff of the faculty when facultyID is set.
func (r *UserRepository) ListActiveIDsByRoles(ctx context.Context, roles []models.UserRole, facultyID *int64) ([]int64, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	builder := psql.Select("u.id").
		From("users u").
		Where(squirrel.Eq{"u.role": roles, "u.active": true})
	if facultyID != nil {
		builder = builder.Where(staffInFaculty, *facultyID, *facultyID)
	}
	query, args, err := builder.OrderBy("u.id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users by role: %w", err)
	}
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return ids, nil
}
