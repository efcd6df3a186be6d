package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	customerDomain "github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/customer"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// CustomerModel is the GORM model for the customers table.
type CustomerModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	FirstName    string    `gorm:"type:varchar(100);not null"`
	LastName     string    `gorm:"type:varchar(100)"`
	Phone        string    `gorm:"type:varchar(30)"`
	AddressLine1 string    `gorm:"type:varchar(255)"`
	AddressLine2 string    `gorm:"type:varchar(255)"`
	City         string    `gorm:"type:varchar(100)"`
	State        string    `gorm:"type:varchar(100)"`
	PostalCode   string    `gorm:"type:varchar(20)"`
	Country      string    `gorm:"type:varchar(2)"`
	Status       string    `gorm:"type:varchar(20);not null;default:'active'"`
	Version      int64     `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null"`
}

// TableName sets the table name.
func (CustomerModel) TableName() string { return "customers" }

// GormCustomerRepository implements CustomerRepository using GORM.
type GormCustomerRepository struct {
	db *gorm.DB
}

// NewGormCustomerRepository creates a new GormCustomerRepository.
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{db: db}
}

// Save persists a new customer. A duplicate email surfaces as a conflict.
func (r *GormCustomerRepository) Save(ctx context.Context, c *customerDomain.Customer) error {
	model := toCustomerModel(c)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.NewConflictError("customer with email " + c.Email() + " already exists")
		}
		return err
	}
	return nil
}

// Update persists changes with optimistic locking.
func (r *GormCustomerRepository) Update(ctx context.Context, c *customerDomain.Customer) error {
	model := toCustomerModel(c)
	previousVersion := c.Version() - 1

	result := r.db.WithContext(ctx).
		Model(&CustomerModel{}).
		Where("id = ? AND version = ?", model.ID, previousVersion).
		Select("*").
		Omit("id", "created_at", "email").
		Updates(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewConflictError("customer was modified by another transaction")
	}
	return nil
}

// FindByID returns a customer by ID.
func (r *GormCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*customerDomain.Customer, error) {
	var model CustomerModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("Customer", id.String())
		}
		return nil, err
	}
	return toCustomerDomain(&model), nil
}

// FindByEmail returns the customer with a case-insensitive email match.
func (r *GormCustomerRepository) FindByEmail(ctx context.Context, email string) (*customerDomain.Customer, error) {
	email = customerDomain.NormalizeEmail(email)
	var model CustomerModel
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFoundError("Customer", email)
		}
		return nil, err
	}
	return toCustomerDomain(&model), nil
}

// List returns a page of customers (admin).
func (r *GormCustomerRepository) List(ctx context.Context, page, limit int) ([]*customerDomain.Customer, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&CustomerModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []CustomerModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	customers := make([]*customerDomain.Customer, len(models))
	for i := range models {
		customers[i] = toCustomerDomain(&models[i])
	}
	return customers, total, nil
}

// Count returns the number of active customers.
func (r *GormCustomerRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&CustomerModel{}).
		Where("status = ?", string(customerDomain.StatusActive)).
		Count(&total).Error
	return total, err
}

func toCustomerModel(c *customerDomain.Customer) CustomerModel {
	addr := c.Address()
	return CustomerModel{
		ID:           c.ID(),
		Email:        c.Email(),
		FirstName:    c.FirstName(),
		LastName:     c.LastName(),
		Phone:        c.Phone(),
		AddressLine1: addr.Line1,
		AddressLine2: addr.Line2,
		City:         addr.City,
		State:        addr.State,
		PostalCode:   addr.PostalCode,
		Country:      addr.Country,
		Status:       string(c.Status()),
		Version:      c.Version(),
		CreatedAt:    c.CreatedAt(),
		UpdatedAt:    c.UpdatedAt(),
	}
}

func toCustomerDomain(m *CustomerModel) *customerDomain.Customer {
	return customerDomain.Reconstruct(
		m.ID, m.Email, m.FirstName, m.LastName, m.Phone,
		customerDomain.Address{
			Line1: m.AddressLine1, Line2: m.AddressLine2, City: m.City,
			State: m.State, PostalCode: m.PostalCode, Country: m.Country,
		},
		customerDomain.Status(m.Status), m.Version,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
}
