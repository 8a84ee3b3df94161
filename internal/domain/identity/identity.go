// Package identity holds the actor model shared by every tenant-aware
// operation: who is calling, in which role, and for which centre.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleCentreOperator Role = "centre_operator"
	RoleTechnician     Role = "technician"
	RoleRadiologist    Role = "radiologist"
	RoleDoctor         Role = "doctor"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleCentreOperator, RoleTechnician, RoleRadiologist, RoleDoctor}

// ParseRole accepts the persisted role names. "diagnostic_centre" is the
// legacy name of the centre operator role.
func ParseRole(s string) (Role, error) {
	if s == "diagnostic_centre" {
		return RoleCentreOperator, nil
	}
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCentreOperator, RoleTechnician, RoleRadiologist, RoleDoctor:
		return true
	}
	return false
}

// TenantScoped reports whether the role only ever sees its own centre.
// Unknown roles are treated as scoped.
func (r Role) TenantScoped() bool {
	switch r {
	case RoleAdmin, RoleRadiologist:
		return false
	case RoleCentreOperator, RoleTechnician, RoleDoctor:
		return true
	}
	return true
}

// RequiresCentre reports whether an actor of this role must be affiliated
// with a centre when created.
func (r Role) RequiresCentre() bool {
	return r == RoleCentreOperator || r == RoleTechnician
}

// Actor is an authenticated caller.
type Actor struct {
	ID       uuid.UUID  `json:"id"`
	Role     Role       `json:"role"`
	CentreID *uuid.UUID `json:"centre_id,omitempty"`
}

func (a Actor) HasCentre() bool {
	return a.CentreID != nil && *a.CentreID != uuid.Nil
}

// InCentre reports whether the actor is affiliated with the given centre.
func (a Actor) InCentre(id uuid.UUID) bool {
	return a.HasCentre() && *a.CentreID == id
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) String() string {
	if a.HasCentre() {
		return fmt.Sprintf("%s:%s@%s", a.Role, a.ID, *a.CentreID)
	}
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}
