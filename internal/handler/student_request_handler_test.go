package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-request-api/internal/dto"
	"github.com/noah-isme/uni-request-api/internal/middleware"
	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/service"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/response"
)

type studentRequestServiceMock struct {
	created      *models.StudentRequestDetail
	err          error
	lastCreate   dto.CreateStudentRequestRequest
	lastQuery    dto.StudentRequestQuery
	lastStatus   dto.UpdateStudentRequestStatusRequest
	lastReassign dto.ReassignStudentRequestRequest
	lastID       int64
	lastFormat   string
	lastActor    *models.JWTClaims
	deleted      bool
}

func (m *studentRequestServiceMock) CreateRequest(_ context.Context, req dto.CreateStudentRequestRequest, actor *models.JWTClaims) (*models.StudentRequestDetail, error) {
	m.lastCreate = req
	m.lastActor = actor
	return m.created, m.err
}

func (m *studentRequestServiceMock) ListRequests(_ context.Context, query dto.StudentRequestQuery, actor *models.JWTClaims) ([]models.StudentRequestDetail, *response.Pagination, error) {
	m.lastQuery = query
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.StudentRequestDetail{*m.created}, &response.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *studentRequestServiceMock) GetRequest(_ context.Context, id int64, _ *models.JWTClaims) (*models.StudentRequestDetail, error) {
	m.lastID = id
	return m.created, m.err
}

func (m *studentRequestServiceMock) GetWorkflowStatus(_ context.Context, id int64, _ *models.JWTClaims) (*models.RequestWorkflowStatus, error) {
	m.lastID = id
	if m.err != nil {
		return nil, m.err
	}
	return &models.RequestWorkflowStatus{Request: m.created, Workflow: models.RequestWorkflow{Progress: 50}}, nil
}

func (m *studentRequestServiceMock) UpdateRequestStatus(_ context.Context, id int64, req dto.UpdateStudentRequestStatusRequest, _ *models.JWTClaims) (*models.StudentRequestDetail, error) {
	m.lastID = id
	m.lastStatus = req
	return m.created, m.err
}

func (m *studentRequestServiceMock) ReassignRequest(_ context.Context, id int64, req dto.ReassignStudentRequestRequest, _ *models.JWTClaims) (*models.StudentRequestDetail, error) {
	m.lastID = id
	m.lastReassign = req
	return m.created, m.err
}

func (m *studentRequestServiceMock) DeleteRequest(_ context.Context, id int64, _ *models.JWTClaims) error {
	m.lastID = id
	m.deleted = m.err == nil
	return m.err
}

func (m *studentRequestServiceMock) AddComment(_ context.Context, id int64, req dto.CreateRequestCommentRequest, actor *models.JWTClaims) (*models.RequestComment, error) {
	m.lastID = id
	if m.err != nil {
		return nil, m.err
	}
	return &models.RequestComment{ID: 1, RequestID: id, AuthorID: actor.UserID, Content: req.Content}, nil
}

func (m *studentRequestServiceMock) ListComments(_ context.Context, id int64, _ *models.JWTClaims) ([]models.RequestComment, error) {
	m.lastID = id
	return []models.RequestComment{{ID: 1, RequestID: id}}, m.err
}

func (m *studentRequestServiceMock) ExportRequests(_ context.Context, query dto.StudentRequestQuery, format string, _ *models.JWTClaims) (*service.ExportFile, error) {
	m.lastQuery = query
	m.lastFormat = format
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportFile{Filename: "student_requests.csv", ContentType: "text/csv; charset=utf-8", Body: []byte("ID\n1\n")}, nil
}

type escalationMock struct {
	summary models.EscalationSummary
	err     error
}

func (e *escalationMock) TriggerEscalation(context.Context) (models.EscalationSummary, error) {
	return e.summary, e.err
}

func sampleRequest() *models.StudentRequestDetail {
	return &models.StudentRequestDetail{
		StudentRequest: models.StudentRequest{ID: 7, StudentID: 4, Title: "Grade appeal", Status: models.StatusInReview},
		StudentName:    "Dewi",
	}
}

func newStudentRequestRouter(svc *studentRequestServiceMock, esc escalationTrigger, actor *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewStudentRequestHandler(svc, esc)
	r := gin.New()
	r.Use(middleware.WithResponseMeta(), func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, actor)
	})
	g := r.Group("/student-requests")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/export", h.Export)
	g.POST("/escalations/run", h.RunEscalation)
	g.GET("/:id", h.Get)
	g.GET("/:id/workflow", h.Workflow)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.PATCH("/:id/assignee", h.Reassign)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/comments", h.AddComment)
	g.GET("/:id/comments", h.ListComments)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var studentActor = &models.JWTClaims{UserID: 4, Role: models.RoleStudent, FullName: "Dewi"}

func TestStudentRequestHandlerCreate(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, studentActor)

	w := do(r, http.MethodPost, "/student-requests", `{"type":"REQUEST","title":"Grade appeal","description":"please"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Grade appeal", svc.lastCreate.Title)
	assert.Equal(t, int64(4), svc.lastActor.UserID)

	var env struct {
		Data models.StudentRequestDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, int64(7), env.Data.ID)

	w = do(r, http.MethodPost, "/student-requests", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = appErrors.ErrInactiveAccount
	w = do(r, http.MethodPost, "/student-requests", `{"type":"REQUEST","title":"x","description":"y"}`)
	assert.Equal(t, appErrors.ErrInactiveAccount.Status, w.Code)
}

func TestStudentRequestHandlerListParsesFilters(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, &models.JWTClaims{UserID: 30, Role: models.RoleAdmin})

	w := do(r, http.MethodGet, "/student-requests?status=pending,%20in_review&category=academic&type=complaint&priority=high&assignedTo=11&q=grade&page=2&pageSize=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RequestStatus{models.StatusPending, models.StatusInReview}, svc.lastQuery.Status)
	assert.Equal(t, models.CategoryAcademic, svc.lastQuery.Category)
	assert.Equal(t, models.RequestTypeComplaint, svc.lastQuery.Type)
	assert.Equal(t, models.PriorityHigh, svc.lastQuery.Priority)
	assert.Equal(t, int64(11), *svc.lastQuery.AssignedTo)
	assert.Equal(t, "grade", svc.lastQuery.Search)
	assert.Equal(t, 2, svc.lastQuery.Page)
	assert.Equal(t, 5, svc.lastQuery.PageSize)

	var env struct {
		Pagination response.Pagination     `json:"pagination"`
		Meta       map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, 1, env.Pagination.TotalCount)
	assert.Contains(t, env.Meta, "processing_time_ms")

	w = do(r, http.MethodGet, "/student-requests?assignedTo=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentRequestHandlerGetAndWorkflow(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, studentActor)

	w := do(r, http.MethodGet, "/student-requests/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), svc.lastID)

	w = do(r, http.MethodGet, "/student-requests/7/workflow", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"progress":50`)

	w = do(r, http.MethodGet, "/student-requests/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = appErrors.Clone(appErrors.ErrNotFound, "student request not found")
	w = do(r, http.MethodGet, "/student-requests/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStudentRequestHandlerUpdateStatus(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, &models.JWTClaims{UserID: 20, Role: models.RoleStudentService})

	w := do(r, http.MethodPatch, "/student-requests/7/status", `{"status":"approved","note":"ok"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusApproved, svc.lastStatus.Status)
	assert.Equal(t, "ok", svc.lastStatus.Note)

	svc.err = appErrors.Clone(appErrors.ErrInvalidTransition, "cannot change status from APPROVED to IN_REVIEW")
	w = do(r, http.MethodPatch, "/student-requests/7/status", `{"status":"IN_REVIEW"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATUS_TRANSITION")

	svc.err = appErrors.Clone(appErrors.ErrConflict, "request status was changed concurrently")
	w = do(r, http.MethodPatch, "/student-requests/7/status", `{"status":"REJECTED"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStudentRequestHandlerReassignDeleteComments(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, &models.JWTClaims{UserID: 30, Role: models.RoleAdmin})

	w := do(r, http.MethodPatch, "/student-requests/7/assignee", `{"assigneeId":11}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(11), svc.lastReassign.AssigneeID)

	w = do(r, http.MethodPost, "/student-requests/7/comments", `{"content":"checking"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"checking"`)

	w = do(r, http.MethodGet, "/student-requests/7/comments", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/student-requests/7", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.deleted)

	svc.err = appErrors.ErrRequestProcessed
	w = do(r, http.MethodDelete, "/student-requests/7", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStudentRequestHandlerExport(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	r := newStudentRequestRouter(svc, nil, &models.JWTClaims{UserID: 30, Role: models.RoleAdmin})

	w := do(r, http.MethodGet, "/student-requests/export?status=APPROVED", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.lastFormat)
	assert.Equal(t, `attachment; filename="student_requests.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "ID\n1\n", w.Body.String())

	w = do(r, http.MethodGet, "/student-requests/export?format=pdf", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf", svc.lastFormat)
}

func TestStudentRequestHandlerRunEscalation(t *testing.T) {
	svc := &studentRequestServiceMock{created: sampleRequest()}
	admin := &models.JWTClaims{UserID: 30, Role: models.RoleAdmin}

	w := do(newStudentRequestRouter(svc, nil, admin), http.MethodPost, "/student-requests/escalations/run", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	esc := &escalationMock{summary: models.EscalationSummary{Overdue: 2, Notified: 4}}
	w = do(newStudentRequestRouter(svc, esc, admin), http.MethodPost, "/student-requests/escalations/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"notified":4`)

	esc.err = appErrors.Clone(appErrors.ErrConflict, "overdue escalation already running")
	w = do(newStudentRequestRouter(svc, esc, admin), http.MethodPost, "/student-requests/escalations/run", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	esc.err = errors.New("db down")
	w = do(newStudentRequestRouter(svc, esc, admin), http.MethodPost, "/student-requests/escalations/run", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
