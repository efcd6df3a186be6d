package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/subscription"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// CustomerService is the customer registry. Customers are keyed by case-insensitive email.
type CustomerService struct {
	repo   customer.CustomerRepository
	subs   subscription.SubscriptionRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewCustomerService creates a new CustomerService. now may be nil.
func NewCustomerService(repo customer.CustomerRepository, subs subscription.SubscriptionRepository, now func() time.Time, logger *zap.Logger) *CustomerService {
	if now == nil {
		now = time.Now
	}
	return &CustomerService{repo: repo, subs: subs, now: now, logger: logger}
}

// CreateOrUpdate inserts a customer or updates the one with the same email.
func (s *CustomerService) CreateOrUpdate(ctx context.Context, req CustomerRequest) (*CustomerDTO, error) {
	c, err := s.resolve(ctx, req.profile())
	if err != nil {
		return nil, err
	}
	return toCustomerDTO(c), nil
}

func (s *CustomerService) resolve(ctx context.Context, p customer.Profile) (*customer.Customer, error) {
	existing, err := s.repo.FindByEmail(ctx, p.Email)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}

	if existing == nil {
		c, err := customer.NewCustomer(p, s.now())
		if err != nil {
			return nil, err
		}
		err = s.repo.Save(ctx, c)
		if err == nil {
			s.logger.Info("customer created", zap.String("customer_id", c.ID().String()))
			return c, nil
		}
		if !apperr.IsConflict(err) {
			return nil, err
		}
		// Lost an insert race on the unique email; update the winner instead.
		if existing, err = s.repo.FindByEmail(ctx, p.Email); err != nil {
			return nil, err
		}
	}

	if err := existing.Update(p, s.now()); err != nil {
		return nil, err
	}
	existing.IncrementVersion()
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	s.logger.Info("customer updated", zap.String("customer_id", existing.ID().String()))
	return existing, nil
}

// Delete soft-deactivates a customer. It is blocked while any subscription can still bill or resume.
func (s *CustomerService) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	live, err := s.subs.CountByCustomerAndStatuses(ctx, id, subscription.LiveStatuses)
	if err != nil {
		return err
	}
	if live > 0 {
		return apperr.NewBlockedError("customer has active subscriptions")
	}
	if !c.IsActive() {
		return nil
	}

	c.Deactivate(s.now())
	c.IncrementVersion()
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}

	s.logger.Info("customer deactivated", zap.String("customer_id", id.String()))
	return nil
}

// Get returns a customer by ID.
func (s *CustomerService) Get(ctx context.Context, id uuid.UUID) (*CustomerDTO, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toCustomerDTO(c), nil
}

// FindByEmail returns a customer by email.
func (s *CustomerService) FindByEmail(ctx context.Context, email string) (*CustomerDTO, error) {
	c, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return toCustomerDTO(c), nil
}

// List returns a page of customers (admin).
func (s *CustomerService) List(ctx context.Context, page, limit int) ([]*CustomerDTO, int64, error) {
	customers, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]*CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	return dtos, total, nil
}
