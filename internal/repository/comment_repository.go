package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-request-api/internal/models"
)

// CommentRepository persists request comments.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository constructs the repository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts a comment and fills its identifier.
func (r *CommentRepository) Create(ctx context.Context, comment *models.RequestComment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_comments (request_id, author_id, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, comment.RequestID, comment.AuthorID, comment.Content, comment.CreatedAt).Scan(&comment.ID); err != nil {
		return fmt.Errorf("create request comment: %w", err)
	}
	return nil
}

// ListByRequest returns the comment thread of a request, oldest first.
func (r *CommentRepository) ListByRequest(ctx context.Context, requestID int64) ([]models.RequestComment, error) {
	const query = `SELECT c.id, c.request_id, c.author_id, u.full_name AS author_name, c.content, c.created_at
	FROM request_comments c JOIN users u ON u.id = c.author_id
	WHERE c.request_id = $1 ORDER BY c.created_at ASC, c.id ASC`
	comments := make([]models.RequestComment, 0)
	if err := r.db.SelectContext(ctx, &comments, query, requestID); err != nil {
		return nil, fmt.Errorf("list request comments: %w", err)
	}
	return comments, nil
}
