package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/repository"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func int64Ptr(v int64) *int64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }

type staffMember struct {
	models.StaffCandidate
	FacultyID *int64
}

// requestStoreStub is an in-memory request table shared by the routing,
// workflow and orchestrator tests.
type requestStoreStub struct {
	mu        sync.Mutex
	nextID    int64
	requests  map[int64]*models.StudentRequestDetail
	faculties map[int64]int64
	names     map[int64]string
	staff     []staffMember

	assignErr  error
	updateErr  error
	listErr    error
	lastAssign repository.AssignParams
	lastFilter models.StudentRequestFilter
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{
		nextID:    100,
		requests:  make(map[int64]*models.StudentRequestDetail),
		faculties: make(map[int64]int64),
		names:     make(map[int64]string),
	}
}

func (s *requestStoreStub) addStaff(id int64, name string, role models.UserRole, facultyID *int64, baseline int) {
	s.staff = append(s.staff, staffMember{
		StaffCandidate: models.StaffCandidate{UserID: id, FullName: name, Role: role, OpenRequests: baseline},
		FacultyID:      facultyID,
	})
	s.names[id] = name
}

func (s *requestStoreStub) put(req models.StudentRequestDetail) *models.StudentRequestDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := req
	s.requests[req.ID] = &copy
	return &copy
}

func (s *requestStoreStub) get(id int64) models.StudentRequestDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.requests[id]
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.StudentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	req.UpdatedAt = req.CreatedAt
	detail := models.StudentRequestDetail{StudentRequest: *req, StudentName: s.names[req.StudentID]}
	if faculty, ok := s.faculties[req.StudentID]; ok {
		detail.StudentFacultyID = int64Ptr(faculty)
	}
	s.requests[req.ID] = &detail
	return nil
}

func (s *requestStoreStub) GetDetail(ctx context.Context, id int64) (*models.StudentRequestDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *req
	return &copy, nil
}

func (s *requestStoreStub) List(ctx context.Context, filter models.StudentRequestFilter) ([]models.StudentRequestDetail, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	out := make([]models.StudentRequestDetail, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.StudentID != nil && req.StudentID != *filter.StudentID {
			continue
		}
		if filter.AssignedTo != nil && (req.AssignedTo == nil || *req.AssignedTo != *filter.AssignedTo) {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *requestStoreStub) UpdateStatus(ctx context.Context, id int64, from, to models.RequestStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	req, ok := s.requests[id]
	if !ok || req.Status != from {
		return sql.ErrNoRows
	}
	req.Status = to
	req.UpdatedAt = at
	return nil
}

func (s *requestStoreStub) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status.IsProcessed() {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	return nil
}

func (s *requestStoreStub) openCount(userID int64) int {
	count := 0
	for _, req := range s.requests {
		if req.AssignedTo != nil && *req.AssignedTo == userID && !req.Status.IsProcessed() {
			count++
		}
	}
	return count
}

// AssignWithinPool lists the pool in id order so the chooser has to do the ranking.
func (s *requestStoreStub) AssignWithinPool(ctx context.Context, params repository.AssignParams, choose repository.CandidateChooser) (*models.StaffCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAssign = params
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	pool := make([]models.StaffCandidate, 0, len(s.staff))
	for _, member := range s.staff {
		if member.Role != params.Role {
			continue
		}
		if params.FacultyID != nil && (member.FacultyID == nil || *member.FacultyID != *params.FacultyID) {
			continue
		}
		candidate := member.StaffCandidate
		candidate.OpenRequests += s.openCount(member.UserID)
		pool = append(pool, candidate)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].UserID < pool[j].UserID })
	picked, ok := choose(pool)
	if !ok {
		return nil, nil
	}
	req, exists := s.requests[params.RequestID]
	if !exists || req.AssignedTo != nil {
		return nil, repository.ErrRequestAlreadyAssigned
	}
	name := picked.FullName
	req.AssignedTo = int64Ptr(picked.UserID)
	req.AssigneeName = &name
	req.DueDate = timePtr(params.DueDate)
	req.Status = models.StatusInReview
	req.UpdatedAt = params.At
	return &picked, nil
}

func (s *requestStoreStub) ListOverdue(ctx context.Context, now time.Time) ([]models.StudentRequestDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StudentRequestDetail, 0)
	for _, req := range s.requests {
		if req.Status.IsProcessed() || req.DueDate == nil || !req.DueDate.Before(now) {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *requestStoreStub) Reassign(ctx context.Context, id, assigneeID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	name := s.names[assigneeID]
	req.AssignedTo = int64Ptr(assigneeID)
	req.AssigneeName = &name
	req.UpdatedAt = at
	return nil
}

func (s *requestStoreStub) CountOpenByPriority(ctx context.Context, priority models.RequestPriority) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, req := range s.requests {
		if req.Priority == priority && !req.Status.IsProcessed() {
			count++
		}
	}
	return count, nil
}

type sentNotification struct {
	Recipient int64
	Input     NotificationInput
}

type notifierStub struct {
	mu   sync.Mutex
	sent []sentNotification
	fail map[int64]bool
}

func (n *notifierStub) CreateNotification(ctx context.Context, input NotificationInput, recipientID int64) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[recipientID] {
		return nil, errors.New("sink unavailable")
	}
	n.sent = append(n.sent, sentNotification{Recipient: recipientID, Input: input})
	return &models.Notification{ID: int64(len(n.sent)), RecipientID: recipientID, Title: input.Title, Priority: input.Priority}, nil
}

func (n *notifierStub) NotifyMany(ctx context.Context, input NotificationInput, recipients []int64) int {
	delivered := 0
	for _, id := range recipients {
		if _, err := n.CreateNotification(ctx, input, id); err == nil {
			delivered++
		}
	}
	return delivered
}

func (n *notifierStub) to(recipient int64) []NotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotificationInput
	for _, s := range n.sent {
		if s.Recipient == recipient {
			out = append(out, s.Input)
		}
	}
	return out
}

func (n *notifierStub) titled(title string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.Input.Title == title {
			out = append(out, s)
		}
	}
	return out
}

type recipientsStub struct {
	byRole map[models.UserRole][]int64
	calls  [][]models.UserRole
	fresh  int
	err    error
}

func (r *recipientsStub) ResolveActiveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error) {
	r.fresh++
	return r.ResolveRecipients(ctx, roles, facultyScope)
}

func (r *recipientsStub) ResolveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error) {
	r.calls = append(r.calls, roles)
	if r.err != nil {
		return nil, r.err
	}
	var ids []int64
	for _, role := range roles {
		ids = append(ids, r.byRole[role]...)
	}
	return uniqueIDs(ids), nil
}

type usersStub struct {
	users map[int64]*models.User
}

func (u *usersStub) FindByID(ctx context.Context, id int64) (*models.User, error) {
	user, ok := u.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

type commentStoreStub struct {
	comments []models.RequestComment
	err      error
}

func (c *commentStoreStub) Create(ctx context.Context, comment *models.RequestComment) error {
	if c.err != nil {
		return c.err
	}
	comment.ID = int64(len(c.comments) + 1)
	c.comments = append(c.comments, *comment)
	return nil
}

func (c *commentStoreStub) ListByRequest(ctx context.Context, requestID int64) ([]models.RequestComment, error) {
	out := make([]models.RequestComment, 0)
	for _, comment := range c.comments {
		if comment.RequestID == requestID {
			out = append(out, comment)
		}
	}
	return out, nil
}

type auditRecorder struct {
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

// Users of the fixture university. Faculty 1 is engineering, faculty 2 is law.
const (
	studentDewi   int64 = 4
	studentBima   int64 = 5
	profHadi      int64 = 10
	profSari      int64 = 11
	profLaw       int64 = 12
	serviceRina   int64 = 20
	serviceLaw    int64 = 21
	adminAgus     int64 = 30
	adminMaya     int64 = 31
	inactiveStaff int64 = 40
)

type requestHarness struct {
	store      *requestStoreStub
	users      *usersStub
	comments   *commentStoreStub
	notifier   *notifierStub
	recipients *recipientsStub
	audit      *auditRecorder
	routing    *RequestRoutingService
	workflow   *RequestWorkflowService
	svc        *StudentRequestService
}

func newRequestHarness() *requestHarness {
	engineering, law := int64(1), int64(2)

	store := newRequestStoreStub()
	store.faculties[studentDewi] = engineering
	store.faculties[studentBima] = law
	store.names[studentDewi] = "Dewi"
	store.names[studentBima] = "Bima"
	store.addStaff(profHadi, "Prof. Hadi", models.RoleProfessor, &engineering, 2)
	store.addStaff(profSari, "Prof. Sari", models.RoleProfessor, &engineering, 0)
	store.addStaff(profLaw, "Prof. Lukas", models.RoleProfessor, &law, 0)
	store.addStaff(serviceRina, "Rina", models.RoleStudentService, &engineering, 0)
	store.addStaff(serviceLaw, "Tono", models.RoleStudentService, &law, 0)
	store.addStaff(adminAgus, "Agus", models.RoleAdmin, nil, 1)
	store.addStaff(adminMaya, "Maya", models.RoleAdmin, nil, 1)

	users := &usersStub{users: map[int64]*models.User{
		studentDewi:   {ID: studentDewi, FullName: "Dewi", Email: "dewi@uni.ac.id", Role: models.RoleStudent, Active: true},
		studentBima:   {ID: studentBima, FullName: "Bima", Email: "bima@uni.ac.id", Role: models.RoleStudent, Active: false},
		profHadi:      {ID: profHadi, FullName: "Prof. Hadi", Role: models.RoleProfessor, Active: true},
		profSari:      {ID: profSari, FullName: "Prof. Sari", Role: models.RoleProfessor, Active: true},
		serviceRina:   {ID: serviceRina, FullName: "Rina", Role: models.RoleStudentService, Active: true},
		adminAgus:     {ID: adminAgus, FullName: "Agus", Role: models.RoleAdmin, Active: true},
		inactiveStaff: {ID: inactiveStaff, FullName: "Old", Role: models.RoleProfessor, Active: false},
	}}

	recipients := &recipientsStub{byRole: map[models.UserRole][]int64{
		models.RoleAdmin:          {adminAgus, adminMaya},
		models.RoleStudentService: {serviceRina, serviceLaw},
		models.RoleProfessor:      {profHadi, profSari, profLaw},
	}}
	notifier := &notifierStub{}
	comments := &commentStoreStub{}
	audit := &auditRecorder{}

	routing := NewRequestRoutingService(store, recipients, notifier, nil, zap.NewNop())
	routing.now = fixedClock
	workflow := NewRequestWorkflowService(store, recipients, notifier, zap.NewNop())
	workflow.now = fixedClock
	svc := NewStudentRequestService(StudentRequestServiceDeps{
		Requests:  store,
		Comments:  comments,
		Users:     users,
		Routing:   routing,
		Workflow:  workflow,
		Notifier:  notifier,
		Audit:     audit,
		Exporter:  NewExportService(),
		Validator: validator.New(),
		Logger:    zap.NewNop(),
	})
	svc.now = fixedClock

	return &requestHarness{
		store:      store,
		users:      users,
		comments:   comments,
		notifier:   notifier,
		recipients: recipients,
		audit:      audit,
		routing:    routing,
		workflow:   workflow,
		svc:        svc,
	}
}

func claims(id int64, role models.UserRole, name string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role, FullName: name}
}

// seedRequest stores a request owned by Dewi in the given state.
func (h *requestHarness) seedRequest(id int64, status models.RequestStatus, mutate ...func(*models.StudentRequestDetail)) {
	req := models.StudentRequestDetail{
		StudentRequest: models.StudentRequest{
			ID:        id,
			StudentID: studentDewi,
			Type:      models.RequestTypeRequest,
			Title:     "Transcript copy",
			Category:  models.CategoryAdministrative,
			Priority:  models.PriorityNormal,
			Status:    status,
			CreatedAt: fixedNow.Add(-48 * time.Hour),
		},
		StudentName:      "Dewi",
		StudentFacultyID: int64Ptr(1),
	}
	for _, fn := range mutate {
		fn(&req)
	}
	h.store.put(req)
}
