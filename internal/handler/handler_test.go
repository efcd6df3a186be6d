package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/application"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/auth"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memCustomers struct {
	customer.CustomerRepository
	mu   sync.Mutex
	rows map[uuid.UUID]customer.Customer
}

func (m *memCustomers) Save(ctx context.Context, c *customer.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID()] = *c
	return nil
}

func (m *memCustomers) Update(ctx context.Context, c *customer.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.ID()] = *c
	return nil
}

func (m *memCustomers) FindByID(ctx context.Context, id uuid.UUID) (*customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, apperr.NewNotFoundError("customer", id.String())
	}
	return &c, nil
}

func (m *memCustomers) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.Email() == customer.NormalizeEmail(email) {
			return &c, nil
		}
	}
	return nil, apperr.NewNotFoundError("customer", email)
}

func (m *memCustomers) List(ctx context.Context, page, limit int) ([]*customer.Customer, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*customer.Customer
	for _, c := range m.rows {
		out = append(out, &c)
	}
	return out, int64(len(out)), nil
}

// liveSubs reports a fixed number of live subscriptions for every customer.
type liveSubs struct {
	subscription.SubscriptionRepository
	live int64
}

func (s *liveSubs) CountByCustomerAndStatuses(ctx context.Context, id uuid.UUID, statuses []subscription.Status) (int64, error) {
	return s.live, nil
}

type emptyProcessor struct{}

func (emptyProcessor) DueIDs(ctx context.Context, q subscription.DueQuery) ([]uuid.UUID, error) {
	return nil, nil
}

func (emptyProcessor) ProcessDue(ctx context.Context, id uuid.UUID) (*application.ProcessResult, error) {
	return nil, application.ErrNotDue
}

func (emptyProcessor) Policy() subscription.DunningPolicy { return subscription.DefaultDunningPolicy() }
func (emptyProcessor) Now() time.Time                    { return time.Now() }

type testServer struct {
	router    *gin.Engine
	jwt       *auth.JWTManager
	customers *memCustomers
	subs      *liveSubs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	jwt := auth.NewJWTManager("test-secret", time.Hour, time.Hour)
	customers := &memCustomers{rows: make(map[uuid.UUID]customer.Customer)}
	subs := &liveSubs{}

	customerSvc := application.NewCustomerService(customers, subs, nil, logger)
	sweeper := application.NewRenewalSweeper(emptyProcessor{}, application.SweepConfig{}, logger)

	r := gin.New()
	api := r.Group("/api/v1")
	NewCustomerHandler(customerSvc).RegisterRoutes(api, jwt)
	NewSubscriptionHandler(nil, customerSvc).RegisterRoutes(api, jwt)
	NewAdminHandler(nil, sweeper).RegisterRoutes(api, jwt)
	NewUtilHandler(money.DefaultFormat()).RegisterRoutes(api)

	return &testServer{router: r, jwt: jwt, customers: customers, subs: subs}
}

func (s *testServer) token(t *testing.T, email string, role auth.Role) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(uuid.New(), email, role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, response.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestFormatMoney(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/utils/format-money?amount=1234.5&currency=usd", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, "$1,234.50", data["formatted"])
	assert.Equal(t, "USD", data["currency"])

	w, env = s.do(t, http.MethodGet, "/api/v1/utils/format-money?amount=1500&currency=JPY&position=right_space", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1,500 ¥", env.Data.(map[string]any)["formatted"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/utils/format-money?amount=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/utils/format-money?amount=1&position=middle", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCustomerRoutes_Auth(t *testing.T) {
	s := newTestServer(t)
	body := `{"email":"ada@example.com","first_name":"Ada"}`

	w, env := s.do(t, http.MethodPost, "/api/v1/customers", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/customers", s.token(t, "grace@example.com", auth.RoleCustomer), body)
	assert.Equal(t, http.StatusForbidden, w.Code, "customers may only register themselves")

	w, _ = s.do(t, http.MethodGet, "/api/v1/customers", s.token(t, "ada@example.com", auth.RoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, w.Code, "listing is admin only")
}

func TestCustomerRoutes_CreateAndGet(t *testing.T) {
	s := newTestServer(t)
	ada := s.token(t, "ada@example.com", auth.RoleCustomer)

	w, env := s.do(t, http.MethodPost, "/api/v1/customers", ada, `{"email":"Ada@Example.com","first_name":"Ada"}`)
	require.Equal(t, http.StatusOK, w.Code)
	id := env.Data.(map[string]any)["id"].(string)

	w, env = s.do(t, http.MethodGet, "/api/v1/customers/"+id, ada, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", env.Data.(map[string]any)["email"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/customers/"+id, s.token(t, "grace@example.com", auth.RoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/customers/not-a-uuid", ada, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/customers?page=1&limit=10", s.token(t, "admin@example.com", auth.RoleAdmin), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), env.Meta.Total)
}

func TestCustomerRoutes_DeleteBlocked(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin@example.com", auth.RoleAdmin)

	w, env := s.do(t, http.MethodPost, "/api/v1/customers", admin, `{"email":"ada@example.com","first_name":"Ada"}`)
	require.Equal(t, http.StatusOK, w.Code)
	id := env.Data.(map[string]any)["id"].(string)

	s.subs.live = 1
	w, env = s.do(t, http.MethodDelete, "/api/v1/customers/"+id, admin, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "blocked", env.Error.Code)

	s.subs.live = 0
	w, _ = s.do(t, http.MethodDelete, "/api/v1/customers/"+id, admin, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubscriptionRoutes_InvalidID(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/v1/subscriptions/123", s.token(t, "ada@example.com", auth.RoleCustomer), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/v1/subscriptions/"+uuid.NewString()+"/status",
		s.token(t, "ada@example.com", auth.RoleCustomer), `{"status":"active"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes_RunRenewals(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/v1/admin/renewals/run", s.token(t, "cron@example.com", auth.RoleSystem), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), env.Data.(map[string]any)["scanned"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/renewals/run", s.token(t, "ada@example.com", auth.RoleCustomer), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
