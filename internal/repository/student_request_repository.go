package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/pkg/database"
)

// ErrRequestAlreadyAssigned is returned when an assignment loses the race to another writer.
var ErrRequestAlreadyAssigned = errors.New("student request already assigned")

const (
	requestColumns = `id, student_id, type, title, description, category, priority, status, due_date, assigned_to, created_at, updated_at`

	requestDetailColumns = `r.id, r.student_id, r.type, r.title, r.description, r.category, r.priority, r.status,
	r.due_date, r.assigned_to, r.created_at, r.updated_at,
	s.full_name AS student_name, sp.faculty_id AS student_faculty_id, a.full_name AS assignee_name`

	requestDetailFrom = `student_requests r
	JOIN users s ON s.id = r.student_id
	LEFT JOIN students st ON st.user_id = r.student_id
	LEFT JOIN study_programs sp ON sp.id = st.study_program_id
	LEFT JOIN users a ON a.id = r.assigned_to`
)

// StudentRequestRepository persists student requests and their assignment state.
type StudentRequestRepository struct {
	db *sqlx.DB
}

// NewStudentRequestRepository constructs the repository.
func NewStudentRequestRepository(db *sqlx.DB) *StudentRequestRepository {
	return &StudentRequestRepository{db: db}
}

// Create inserts a new request and fills generated columns.
func (r *StudentRequestRepository) Create(ctx context.Context, req *models.StudentRequest) error {
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt

	query, args, err := psql.Insert("student_requests").
		Columns("student_id", "type", "title", "description", "category", "priority", "status", "due_date", "assigned_to", "created_at", "updated_at").
		Values(req.StudentID, req.Type, req.Title, req.Description, req.Category, req.Priority, req.Status, req.DueDate, req.AssignedTo, req.CreatedAt, req.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create student request: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&req.ID); err != nil {
		return fmt.Errorf("create student request: %w", err)
	}
	return nil
}

// GetByID fetches a request row.
func (r *StudentRequestRepository) GetByID(ctx context.Context, id int64) (*models.StudentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM student_requests WHERE id = $1`
	var req models.StudentRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetDetail fetches a request with its student, student faculty and assignee.
func (r *StudentRequestRepository) GetDetail(ctx context.Context, id int64) (*models.StudentRequestDetail, error) {
	query := `SELECT ` + requestDetailColumns + ` FROM ` + requestDetailFrom + ` WHERE r.id = $1`
	var detail models.StudentRequestDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns requests matching the filter, newest first, with the total count.
func (r *StudentRequestRepository) List(ctx context.Context, filter models.StudentRequestFilter) ([]models.StudentRequestDetail, int, error) {
	where := squirrel.And{}
	if filter.StudentID != nil {
		where = append(where, squirrel.Eq{"r.student_id": *filter.StudentID})
	}
	if filter.AssignedTo != nil {
		where = append(where, squirrel.Eq{"r.assigned_to": *filter.AssignedTo})
	}
	if len(filter.Status) > 0 {
		where = append(where, squirrel.Eq{"r.status": filter.Status})
	}
	if filter.Category != "" {
		where = append(where, squirrel.Eq{"r.category": filter.Category})
	}
	if filter.Type != "" {
		where = append(where, squirrel.Eq{"r.type": filter.Type})
	}
	if filter.Priority != "" {
		where = append(where, squirrel.Eq{"r.priority": filter.Priority})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		where = append(where, squirrel.ILike{"r.title": "%" + search + "%"})
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	listQuery, args, err := psql.Select(requestDetailColumns).
		From(requestDetailFrom).
		Where(where).
		OrderBy("r.created_at DESC", "r.id DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list student requests: %w", err)
	}

	var items []models.StudentRequestDetail
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list student requests: %w", err)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("student_requests r").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count student requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count student requests: %w", err)
	}
	return items, total, nil
}

// UpdateStatus moves a request from one status to another. It returns
// sql.ErrNoRows when the stored status no longer equals from.
func (r *StudentRequestRepository) UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus, at time.Time) error {
	const query = `UPDATE student_requests SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, at)
	if err != nil {
		return fmt.Errorf("update student request status: %w", err)
	}
	return expectAffected(res)
}

// AssignParams describes an assignment inside one staff pool.
type AssignParams struct {
	RequestID int64
	Role      models.UserRole
	FacultyID *int64
	DueDate   time.Time
	At        time.Time
}

// CandidateChooser picks one candidate out of a pool ordered by open load then id.
type CandidateChooser func(candidates []models.StaffCandidate) (models.StaffCandidate, bool)

// AssignWithinPool selects and assigns a staff member in one transaction. The
// pool is serialised by a transaction-scoped advisory lock so concurrent
// assignments observe each other's load. It returns nil without error when
// the pool is empty and ErrRequestAlreadyAssigned when the request already
// has an assignee.
func (r *StudentRequestRepository) AssignWithinPool(ctx context.Context, params AssignParams, choose CandidateChooser) (*models.StaffCandidate, error) {
	var picked *models.StaffCandidate
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, poolLockKey(params.Role, params.FacultyID)); err != nil {
			return fmt.Errorf("lock staff pool: %w", err)
		}
		candidates, err := listCandidates(ctx, tx, params.Role, params.FacultyID)
		if err != nil {
			return err
		}
		candidate, ok := choose(candidates)
		if !ok {
			return nil
		}
		const query = `UPDATE student_requests SET assigned_to = $2, due_date = $3, status = $4, updated_at = $5 WHERE id = $1 AND assigned_to IS NULL`
		res, err := tx.ExecContext(ctx, query, params.RequestID, candidate.UserID, params.DueDate, models.StatusInReview, params.At)
		if err != nil {
			return fmt.Errorf("assign student request: %w", err)
		}
		if err := expectAffected(res); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRequestAlreadyAssigned
			}
			return err
		}
		picked = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

// ListCandidates returns active staff of a role with their open request counts.
func (r *StudentRequestRepository) ListCandidates(ctx context.Context, role models.UserRole, facultyID *int64) ([]models.StaffCandidate, error) {
	return listCandidates(ctx, r.db, role, facultyID)
}

func listCandidates(ctx context.Context, q sqlx.QueryerContext, role models.UserRole, facultyID *int64) ([]models.StaffCandidate, error) {
	builder := psql.Select("u.id AS user_id", "u.full_name", "u.role", "COUNT(r.id) AS open_requests").
		From("users u").
		LeftJoin("student_requests r ON r.assigned_to = u.id AND r.status IN ('PENDING', 'IN_REVIEW')").
		Where(squirrel.Eq{"u.role": role, "u.active": true})
	if facultyID != nil {
		builder = builder.Where(staffInFaculty, *facultyID, *facultyID)
	}
	query, args, err := builder.
		GroupBy("u.id", "u.full_name", "u.role").
		OrderBy("open_requests ASC", "u.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list staff candidates: %w", err)
	}
	var candidates []models.StaffCandidate
	if err := sqlx.SelectContext(ctx, q, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("list staff candidates: %w", err)
	}
	return candidates, nil
}

func poolLockKey(role models.UserRole, facultyID *int64) string {
	if facultyID == nil {
		return fmt.Sprintf("request-pool:%s", role)
	}
	return fmt.Sprintf("request-pool:%s:%d", role, *facultyID)
}

// Reassign overwrites the assignee without touching status or due date.
func (r *StudentRequestRepository) Reassign(ctx context.Context, id, assigneeID int64, at time.Time) error {
	const query = `UPDATE student_requests SET assigned_to = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, assigneeID, at)
	if err != nil {
		return fmt.Errorf("reassign student request: %w", err)
	}
	return expectAffected(res)
}

// Delete removes an unprocessed request together with its comments. It
// returns sql.ErrNoRows when the request is missing or already processed.
func (r *StudentRequestRepository) Delete(ctx context.Context, id int64) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM request_comments WHERE request_id = $1`, id); err != nil {
			return fmt.Errorf("delete request comments: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM student_requests WHERE id = $1 AND status IN ('PENDING', 'IN_REVIEW')`, id)
		if err != nil {
			return fmt.Errorf("delete student request: %w", err)
		}
		return expectAffected(res)
	})
}

// ListOverdue returns open requests whose due date lies before now.
func (r *StudentRequestRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.StudentRequestDetail, error) {
	query, args, err := psql.Select(requestDetailColumns).
		From(requestDetailFrom).
		Where(squirrel.Eq{"r.status": models.OpenStatuses}).
		Where(squirrel.Lt{"r.due_date": now}).
		OrderBy("r.due_date ASC", "r.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list overdue requests: %w", err)
	}
	var items []models.StudentRequestDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list overdue requests: %w", err)
	}
	return items, nil
}

// CountOpenByPriority counts PENDING and IN_REVIEW requests of the given priority.
func (r *StudentRequestRepository) CountOpenByPriority(ctx context.Context, priority models.RequestPriority) (int, error) {
	const query = `SELECT COUNT(*) FROM student_requests WHERE priority = $1 AND status IN ('PENDING', 'IN_REVIEW')`
	var total int
	if err := r.db.GetContext(ctx, &total, query, priority); err != nil {
		return 0, fmt.Errorf("count open requests: %w", err)
	}
	return total, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
