package customer

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/apperr"
)

// Status represents whether a customer can hold subscriptions.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Address is the customer's billing address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Profile holds the mutable customer fields.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Address   Address
}

// Customer is the aggregate root for subscribers.
type Customer struct {
	id        uuid.UUID
	email     string
	firstName string
	lastName  string
	phone     string
	address   Address
	status    Status
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validate(p Profile) (Profile, error) {
	p.Email = NormalizeEmail(p.Email)
	if p.Email == "" {
		return p, apperr.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != p.Email {
		return p, apperr.NewValidationError("invalid email address: %s", p.Email)
	}
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" {
		return p, apperr.NewValidationError("first_name is required")
	}
	p.Address.Country = strings.ToUpper(strings.TrimSpace(p.Address.Country))
	if p.Address.Country != "" && len(p.Address.Country) != 2 {
		return p, apperr.NewValidationError("country must be a 2-letter code")
	}
	return p, nil
}

// NewCustomer creates an active customer.
func NewCustomer(p Profile, now time.Time) (*Customer, error) {
	p, err := validate(p)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	return &Customer{
		id:        uuid.New(),
		email:     p.Email,
		firstName: p.FirstName,
		lastName:  p.LastName,
		phone:     p.Phone,
		address:   p.Address,
		status:    StatusActive,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// Reconstruct rebuilds a Customer from persistence.
func Reconstruct(id uuid.UUID, email, firstName, lastName, phone string, address Address, status Status, version int64, createdAt, updatedAt time.Time) *Customer {
	return &Customer{
		id: id, email: email, firstName: firstName, lastName: lastName, phone: phone,
		address: address, status: status, version: version,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// Update replaces the mutable fields and reactivates an inactive customer.
// The email must still identify the same customer.
func (c *Customer) Update(p Profile, now time.Time) error {
	p, err := validate(p)
	if err != nil {
		return err
	}
	if p.Email != c.email {
		return apperr.NewValidationError("email cannot be changed")
	}
	c.firstName = p.FirstName
	c.lastName = p.LastName
	c.phone = p.Phone
	c.address = p.Address
	c.status = StatusActive
	c.updatedAt = now.UTC()
	return nil
}

// Deactivate soft-deletes the customer.
func (c *Customer) Deactivate(now time.Time) {
	c.status = StatusInactive
	c.updatedAt = now.UTC()
}

// IsActive reports whether the customer may start subscriptions.
func (c *Customer) IsActive() bool { return c.status == StatusActive }

// IncrementVersion bumps the optimistic lock version.
func (c *Customer) IncrementVersion() { c.version++ }

// FullName joins first and last name.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.firstName + " " + c.lastName)
}

// Getters.
func (c *Customer) ID() uuid.UUID        { return c.id }
func (c *Customer) Email() string        { return c.email }
func (c *Customer) FirstName() string    { return c.firstName }
func (c *Customer) LastName() string     { return c.lastName }
func (c *Customer) Phone() string        { return c.phone }
func (c *Customer) Address() Address     { return c.address }
func (c *Customer) Status() Status       { return c.status }
func (c *Customer) Version() int64       { return c.version }
func (c *Customer) CreatedAt() time.Time { return c.createdAt }
func (c *Customer) UpdatedAt() time.Time { return c.updatedAt }
