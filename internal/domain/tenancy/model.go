package tenancy

import (
	"fmt"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
)

// Centre is a tenant organisation. Its name is also the root of its storage
// locations, so it never changes after creation.
type Centre struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Address      *string   `db:"address" json:"address,omitempty"`
	ContactEmail *string   `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone *string   `db:"contact_phone" json:"contact_phone,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CentreUpdate carries the mutable centre fields. Nil fields are unchanged.
type CentreUpdate struct {
	Address      *string `json:"address"`
	ContactEmail *string `json:"contact_email"`
	ContactPhone *string `json:"contact_phone"`
	IsActive     *bool   `json:"is_active"`
}

func (c *Centre) Apply(u CentreUpdate) {
	if u.Address != nil {
		c.Address = u.Address
	}
	if u.ContactEmail != nil {
		c.ContactEmail = u.ContactEmail
	}
	if u.ContactPhone != nil {
		c.ContactPhone = u.ContactPhone
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
}

// ValidateCentreName checks that name can serve as a storage path segment.
func ValidateCentreName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("name must not start or end with whitespace")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("name %q cannot be used as a storage location", name)
	}
	if len(name) > 255 {
		return fmt.Errorf("name is longer than 255 characters")
	}
	return nil
}

func validateEmail(field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := mail.ParseAddress(*v); err != nil {
		return fmt.Errorf("%s is not a valid email address", field)
	}
	return nil
}

// User is a persisted actor.
type User struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	Email     string        `db:"email" json:"email"`
	FullName  string        `db:"full_name" json:"full_name"`
	Role      identity.Role `db:"role" json:"role"`
	CentreID  *uuid.UUID    `db:"centre_id" json:"centre_id,omitempty"`
	IsActive  bool          `db:"is_active" json:"is_active"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

func (u *User) Actor() identity.Actor {
	return identity.Actor{ID: u.ID, Role: u.Role, CentreID: u.CentreID}
}

// Validate checks the role and its centre affiliation.
func (u *User) Validate() error {
	if !u.Role.Valid() {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	if strings.TrimSpace(u.FullName) == "" {
		return fmt.Errorf("full_name is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if err := validateEmail("email", &u.Email); err != nil {
		return err
	}
	if u.Role.RequiresCentre() && (u.CentreID == nil || *u.CentreID == uuid.Nil) {
		return fmt.Errorf("role %s requires a centre", u.Role)
	}
	return nil
}

// UserUpdate carries the mutable user fields. ClearCentre removes the
// affiliation.
type UserUpdate struct {
	FullName    *string        `json:"full_name"`
	Role        *identity.Role `json:"role"`
	CentreID    *uuid.UUID     `json:"centre_id"`
	ClearCentre bool           `json:"clear_centre"`
	IsActive    *bool          `json:"is_active"`
}

func (u *User) Apply(up UserUpdate) {
	if up.FullName != nil {
		u.FullName = *up.FullName
	}
	if up.Role != nil {
		u.Role = *up.Role
	}
	if up.ClearCentre {
		u.CentreID = nil
	} else if up.CentreID != nil {
		id := *up.CentreID
		u.CentreID = &id
	}
	if up.IsActive != nil {
		u.IsActive = *up.IsActive
	}
}

// UserFilter narrows user listings.
type UserFilter struct {
	CentreID *uuid.UUID
	Role     *identity.Role
	Active   *bool
}

// ImagingSource is a modality device that sends studies to a centre.
type ImagingSource struct {
	ID          uuid.UUID `db:"id" json:"id"`
	CentreID    uuid.UUID `db:"centre_id" json:"centre_id"`
	Name        string    `db:"name" json:"name"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	Port        int       `db:"port" json:"port"`
	AETitle     string    `db:"ae_title" json:"ae_title"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (s *ImagingSource) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if net.ParseIP(s.IPAddress) == nil {
		return fmt.Errorf("ip_address %q is not a valid IP address", s.IPAddress)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if s.AETitle == "" || len(s.AETitle) > 16 {
		return fmt.Errorf("ae_title must be 1 to 16 characters")
	}
	if strings.ContainsAny(s.AETitle, `\`) {
		return fmt.Errorf("ae_title must not contain a backslash")
	}
	return nil
}

// ImagingSourceUpdate carries the mutable imaging source fields. The owning
// centre cannot change.
type ImagingSourceUpdate struct {
	Name        *string `json:"name"`
	IPAddress   *string `json:"ip_address"`
	Port        *int    `json:"port"`
	AETitle     *string `json:"ae_title"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (s *ImagingSource) Apply(u ImagingSourceUpdate) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.IPAddress != nil {
		s.IPAddress = *u.IPAddress
	}
	if u.Port != nil {
		s.Port = *u.Port
	}
	if u.AETitle != nil {
		s.AETitle = *u.AETitle
	}
	if u.Description != nil {
		s.Description = u.Description
	}
	if u.IsActive != nil {
		s.IsActive = *u.IsActive
	}
}
