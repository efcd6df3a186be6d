package application

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/history"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
)

const failedPaymentsWindow = 30 * 24 * time.Hour

// RevenueDTO is the monthly recurring revenue in one currency.
type RevenueDTO struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
}

// StatsDTO holds subscription statistics for the admin dashboard.
type StatsDTO struct {
	TotalCustomers     int64            `json:"total_customers"`
	TotalSubscriptions int64            `json:"total_subscriptions"`
	ByStatus           map[string]int64 `json:"by_status"`
	FailedPayments30d  int64            `json:"failed_payments_30d"`
	MonthlyRevenue     []RevenueDTO     `json:"monthly_recurring_revenue"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// StatsService computes dashboard totals.
type StatsService struct {
	customers customer.CustomerRepository
	subs      subscription.SubscriptionRepository
	history   history.Repository
	format    money.FormatConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewStatsService creates a new StatsService. now may be nil.
func NewStatsService(
	customers customer.CustomerRepository,
	subs subscription.SubscriptionRepository,
	hist history.Repository,
	format money.FormatConfig,
	now func() time.Time,
	logger *zap.Logger,
) *StatsService {
	if now == nil {
		now = time.Now
	}
	return &StatsService{customers: customers, subs: subs, history: hist, format: format, now: now, logger: logger}
}

// GetStats returns aggregate subscription statistics (admin).
func (s *StatsService) GetStats(ctx context.Context) (*StatsDTO, error) {
	now := s.now().UTC()

	customers, err := s.customers.Count(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.subs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[string]int64, len(subscription.AllStatuses))
	var total int64
	for _, st := range subscription.AllStatuses {
		byStatus[string(st)] = counts[st]
		total += counts[st]
	}

	failed, err := s.history.CountByActionSince(ctx, history.ActionPaymentFailed, now.Add(-failedPaymentsWindow))
	if err != nil {
		return nil, err
	}

	rows, err := s.subs.RevenueByInterval(ctx, subscription.StatusActive)
	if err != nil {
		return nil, err
	}

	return &StatsDTO{
		TotalCustomers:     customers,
		TotalSubscriptions: total,
		ByStatus:           byStatus,
		FailedPayments30d:  failed,
		MonthlyRevenue:     monthlyRevenue(rows, s.format),
		GeneratedAt:        now,
	}, nil
}

// monthlyRevenue normalises every interval to one month and sums per currency.
func monthlyRevenue(rows []subscription.RevenueRow, format money.FormatConfig) []RevenueDTO {
	sums := make(map[string]decimal.Decimal)
	for _, r := range rows {
		sums[r.Currency] = sums[r.Currency].Add(r.Interval.MonthlyAmount(r.Total))
	}

	out := make([]RevenueDTO, 0, len(sums))
	for cur, amount := range sums {
		amount = money.RoundAmount(amount, cur)
		out = append(out, RevenueDTO{
			Currency:  cur,
			Amount:    amount,
			Formatted: money.FormatMoney(amount, cur, format),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
