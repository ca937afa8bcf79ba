package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-request-api/internal/models"
	"github.com/noah-isme/uni-request-api/internal/service"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (v *validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	v.seen = token
	return v.claims, v.err
}

type auditWriterStub struct {
	logs []*models.AuditLog
}

func (a *auditWriterStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/student-requests/:id", append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/student-requests/42?format=csv", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTMiddleware(t *testing.T) {
	v := &validatorStub{claims: &models.JWTClaims{UserID: 4, Role: models.RoleStudent}}
	r := newTestRouter(JWT(v))

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Token abc").Code)

	w := serve(r, "bearer  abc.def ")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc.def", v.seen)

	v.err = appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	w = serve(r, "Bearer abc")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid token", body["error"]["message"])
}

func TestRequireRoles(t *testing.T) {
	withClaims := func(claims *models.JWTClaims) gin.HandlerFunc {
		return func(c *gin.Context) {
			if claims != nil {
				c.Set(ContextUserKey, claims)
			}
		}
	}
	guard := RequireRoles(models.RoleAdmin, models.RoleStudentService)

	assert.Equal(t, http.StatusUnauthorized, serve(newTestRouter(withClaims(nil), guard), "").Code)
	assert.Equal(t, http.StatusForbidden, serve(newTestRouter(withClaims(&models.JWTClaims{UserID: 4, Role: models.RoleStudent}), guard), "").Code)
	assert.Equal(t, http.StatusOK, serve(newTestRouter(withClaims(&models.JWTClaims{UserID: 20, Role: models.RoleStudentService}), guard), "").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	writer := &auditWriterStub{}
	setClaims := func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: 30, Role: models.RoleAdmin})
	}
	r := newTestRouter(setClaims, Audit(writer, nil, "REQUEST_EXPORT", "student_request"))

	w := serve(r, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, writer.logs, 1)
	entry := writer.logs[0]
	assert.Equal(t, int64(30), *entry.UserID)
	assert.Equal(t, int64(42), *entry.ResourceID)
	assert.Equal(t, "REQUEST_EXPORT", entry.Action)

	var values map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.NewValues, &values))
	assert.Equal(t, "format=csv", values["query"])
}

func TestAuditSkipsFailures(t *testing.T) {
	writer := &auditWriterStub{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/fail", Audit(writer, nil, "X", "y"), func(c *gin.Context) {
		_ = c.AbortWithError(http.StatusInternalServerError, errors.New("boom"))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, writer.logs)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var meta map[string]interface{}
	r.GET("/meta", WithResponseMeta(), func(c *gin.Context) {
		SetMeta(c, "overdue", 3)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/meta", nil))
	require.NotNil(t, meta)
	assert.Equal(t, 3, meta["overdue"])
	assert.Contains(t, meta, "processing_time_ms")
}

func requestCount(t *testing.T, metrics *service.MetricsService, path string) float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" && label.GetValue() == path {
					total += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	metrics := service.NewMetricsService()
	r := newTestRouterWith(Metrics(metrics))

	serve(r, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, float64(1), requestCount(t, metrics, "/student-requests/:id"))
	assert.Equal(t, float64(1), requestCount(t, metrics, unmatchedRoute))
	assert.Zero(t, requestCount(t, metrics, "/metrics"))
}

func newTestRouterWith(global gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(global)
	r.GET("/student-requests/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}
