package application

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/gateway"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/adapter/lock"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/coupon"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/saga"
)

// --- subscriptions ---

type memSubs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]subscription.State
}

func newMemSubs() *memSubs { return &memSubs{rows: make(map[uuid.UUID]subscription.State)} }

func (m *memSubs) Save(ctx context.Context, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID()] = s.Snapshot()
	return nil
}

func (m *memSubs) Update(ctx context.Context, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.ID()]
	if !ok || cur.Version != s.Version()-1 {
		return apperr.NewConflictError("subscription was modified concurrently")
	}
	m.rows[s.ID()] = s.Snapshot()
	return nil
}

func (m *memSubs) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return apperr.NewNotFoundError("subscription", id.String())
	}
	delete(m.rows, id)
	return nil
}

func (m *memSubs) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[id]
	if !ok {
		return nil, apperr.NewNotFoundError("subscription", id.String())
	}
	return subscription.Reconstruct(st), nil
}

// mutate edits a stored row directly, as another writer would.
func (m *memSubs) mutate(id uuid.UUID, fn func(st *subscription.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.rows[id]
	fn(&st)
	st.Version++
	m.rows[id] = st
}

func (m *memSubs) state(id uuid.UUID) subscription.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memSubs) sorted(keep func(subscription.State) bool) []*subscription.Subscription {
	var out []*subscription.Subscription
	for _, st := range m.rows {
		if keep(st) {
			out = append(out, subscription.Reconstruct(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID(), out[j].ID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

func (m *memSubs) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(st subscription.State) bool { return st.CustomerID == customerID }), nil
}

func (m *memSubs) FindByStatus(ctx context.Context, status subscription.Status, page, limit int) ([]*subscription.Subscription, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(st subscription.State) bool { return st.Status == status })
	return all, int64(len(all)), nil
}

func (m *memSubs) List(ctx context.Context, page, limit int) ([]*subscription.Subscription, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(subscription.State) bool { return true })
	return all, int64(len(all)), nil
}

func (m *memSubs) FindDue(ctx context.Context, q subscription.DueQuery) ([]*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(st subscription.State) bool {
		if st.Status != q.Status {
			return false
		}
		if bytes.Compare(st.ID[:], q.AfterID[:]) <= 0 {
			return false
		}
		if q.DueBefore != nil {
			due := st.NextPaymentAt
			if st.Status == subscription.StatusTrialing {
				due = st.TrialEndAt
			}
			if due == nil || due.After(*q.DueBefore) {
				return false
			}
		}
		if q.AttemptBefore != nil && st.LastPaymentAttemptAt != nil && st.LastPaymentAttemptAt.After(*q.AttemptBefore) {
			return false
		}
		return true
	})
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

func (m *memSubs) CountByCustomerAndStatuses(ctx context.Context, customerID uuid.UUID, statuses []subscription.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, st := range m.rows {
		if st.CustomerID != customerID {
			continue
		}
		for _, s := range statuses {
			if st.Status == s {
				n++
			}
		}
	}
	return n, nil
}

func (m *memSubs) CountByStatus(ctx context.Context) (map[subscription.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[subscription.Status]int64)
	for _, st := range m.rows {
		out[st.Status]++
	}
	return out, nil
}

func (m *memSubs) RevenueByInterval(ctx context.Context, status subscription.Status) ([]subscription.RevenueRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		cur string
		iv  money.Interval
	}
	sums := make(map[key]decimal.Decimal)
	for _, st := range m.rows {
		if st.Status != status {
			continue
		}
		k := key{st.Currency, st.Interval}
		sums[k] = sums[k].Add(st.Amount)
	}
	var out []subscription.RevenueRow
	for k, v := range sums {
		out = append(out, subscription.RevenueRow{Currency: k.cur, Interval: k.iv, Total: v})
	}
	return out, nil
}

// --- customers ---

type memCustomers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]customer.Customer
}

func newMemCustomers() *memCustomers {
	return &memCustomers{rows: make(map[uuid.UUID]customer.Customer)}
}

func (m *memCustomers) Save(ctx context.Context, c *customer.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Email() == c.Email() {
			return apperr.NewConflictError("customer email already exists")
		}
	}
	m.rows[c.ID()] = *c
	return nil
}

func (m *memCustomers) Update(ctx context.Context, c *customer.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[c.ID()]
	if !ok || cur.Version() != c.Version()-1 {
		return apperr.NewConflictError("customer was modified concurrently")
	}
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
	email = customer.NormalizeEmail(email)
	for _, c := range m.rows {
		if c.Email() == email {
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

func (m *memCustomers) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.rows {
		if c.IsActive() {
			n++
		}
	}
	return n, nil
}

// --- coupons ---

type memCoupons struct {
	mu   sync.Mutex
	rows map[string]*coupon.Coupon
}

func newMemCoupons() *memCoupons { return &memCoupons{rows: make(map[string]*coupon.Coupon)} }

func (m *memCoupons) Save(ctx context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.Code()]; ok {
		return apperr.NewConflictError("coupon code already exists")
	}
	m.rows[c.Code()] = c
	return nil
}

func (m *memCoupons) Update(ctx context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.Code()] = c
	return nil
}

func (m *memCoupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return c, nil
}

func (m *memCoupons) List(ctx context.Context, page, limit int) ([]*coupon.Coupon, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*coupon.Coupon
	for _, c := range m.rows {
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (m *memCoupons) withUsage(code string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[code]
	if !ok || !c.Active() {
		return coupon.ErrCouponNotFound
	}
	used := c.TimesUsed() + delta
	if delta > 0 && c.UsageLimit() > 0 && c.TimesUsed() >= c.UsageLimit() {
		return coupon.ErrCouponUsageLimitReached
	}
	if used < 0 {
		used = 0
	}
	m.rows[code] = coupon.Reconstruct(c.ID(), c.Code(), c.DiscountType(), c.Value(), c.Active(),
		c.ExpiresAt(), c.UsageLimit(), used, c.CreatedAt(), c.UpdatedAt())
	return nil
}

func (m *memCoupons) Redeem(ctx context.Context, code string) error  { return m.withUsage(code, 1) }
func (m *memCoupons) Release(ctx context.Context, code string) error { return m.withUsage(code, -1) }

// --- history ---

type memHistory struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memHistory) Append(ctx context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memHistory) ListBySubscription(ctx context.Context, id uuid.UUID, from, to time.Time) ([]history.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for _, e := range m.events {
		if e.SubscriptionID != id {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memHistory) CountByActionSince(ctx context.Context, action history.Action, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.Action == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memHistory) actions(id uuid.UUID) []history.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Action
	for _, e := range m.events {
		if e.SubscriptionID == id {
			out = append(out, e.Action)
		}
	}
	return out
}

func (m *memHistory) last(id uuid.UUID) history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].SubscriptionID == id {
			return m.events[i]
		}
	}
	return history.Event{}
}

// --- gateway ---

// scriptedGateway succeeds unless chargeFn says otherwise.
type scriptedGateway struct {
	mu        sync.Mutex
	charges   []gateway.ChargeRequest
	cancelled []string
	chargeFn  func(req gateway.ChargeRequest) error
	createErr error
	cancelErr error
}

func (g *scriptedGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	n := len(g.charges)
	fn := g.chargeFn
	g.mu.Unlock()

	if fn != nil {
		if err := fn(req); err != nil {
			return gateway.ChargeResult{}, err
		}
	}
	return gateway.ChargeResult{ChargeID: fmt.Sprintf("ch_test_%d", n)}, nil
}

func (g *scriptedGateway) CreateExternalSubscription(ctx context.Context, req gateway.ExternalSubscriptionRequest) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	return "sub_test_" + req.SubscriptionID.String()[:8], nil
}

func (g *scriptedGateway) CancelExternalSubscription(ctx context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, externalID)
	return g.cancelErr
}

func (g *scriptedGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func (g *scriptedGateway) setCharge(fn func(req gateway.ChargeRequest) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeFn = fn
}

// --- clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// --- wiring ---

type harness struct {
	engine    *LifecycleEngine
	customers *CustomerService
	coupons   *CouponService
	subs      *memSubs
	custRepo  *memCustomers
	coupRepo  *memCoupons
	history   *memHistory
	gateway   *scriptedGateway
	clock     *testClock
	seen      *[]Transition
}

var testStart = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	clock := &testClock{now: testStart}
	subs := newMemSubs()
	custRepo := newMemCustomers()
	coupRepo := newMemCoupons()
	hist := &memHistory{}
	gw := &scriptedGateway{}
	policy := subscription.DefaultDunningPolicy()

	customers := NewCustomerService(custRepo, subs, clock.Now, logger)
	coupons := NewCouponService(coupRepo, clock.Now, logger)
	creator := saga.NewSubscriptionSagaService(subs, coupRepo, gw, policy, logger)

	var mu sync.Mutex
	seen := []Transition{}
	observer := ObserverFunc(func(ctx context.Context, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	engine := NewLifecycleEngine(subs, hist, customers, coupons, creator, gw, lock.NewLocalLocker(),
		EngineConfig{Policy: policy, LockTimeout: time.Second, Now: clock.Now}, logger, observer)

	return &harness{
		engine:    engine,
		customers: customers,
		coupons:   coupons,
		subs:      subs,
		custRepo:  custRepo,
		coupRepo:  coupRepo,
		history:   hist,
		gateway:   gw,
		clock:     clock,
		seen:      &seen,
	}
}

func customerReq(email string) CustomerRequest {
	return CustomerRequest{Email: email, FirstName: "Ada", LastName: "Lovelace"}
}

func subscriptionReq(email string, trialDays int) CreateSubscriptionRequest {
	return CreateSubscriptionRequest{
		Customer:        customerReq(email),
		PlanName:        "Pro",
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        "USD",
		IntervalUnit:    "month",
		IntervalCount:   1,
		TrialPeriodDays: trialDays,
		PaymentMethod:   "pm_card_visa",
	}
}

// create starts a subscription and fails the test on error.
func (h *harness) create(t *testing.T, req CreateSubscriptionRequest) *SubscriptionDTO {
	t.Helper()
	dto, err := h.engine.CreateSubscription(context.Background(), req, "user-1")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return dto
}
