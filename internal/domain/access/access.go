// Package access decides whether an actor may perform an operation on a
// resource. Evaluation is pure: callers load the resource, then ask.
package access

import (
	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

// Kind names a resource type.
type Kind string

const (
	Centre        Kind = "centre"
	User          Kind = "user"
	ImagingSource Kind = "imaging_source"
	Study         Kind = "study"
	Report        Kind = "report"
	Billing       Kind = "billing"
	Pricing       Kind = "pricing"
)

// Kinds lists every resource kind.
var Kinds = []Kind{Centre, User, ImagingSource, Study, Report, Billing, Pricing}

type Operation string

const (
	Read       Operation = "read"
	Create     Operation = "create"
	Update     Operation = "update"
	Delete     Operation = "delete"
	Assign     Operation = "assign"
	Transition Operation = "transition"
	Verify     Operation = "verify"
	Enrich     Operation = "enrich"
)

// Operations lists every operation.
var Operations = []Operation{Read, Create, Update, Delete, Assign, Transition, Verify, Enrich}

// Resource identifies what is being acted on. CentreID is nil for resources
// that belong to no centre, such as the centre collection itself.
type Resource struct {
	Kind     Kind
	CentreID *uuid.UUID
}

// On returns a resource owned by centre.
func On(kind Kind, centre uuid.UUID) Resource {
	return Resource{Kind: kind, CentreID: &centre}
}

// Global returns a resource owned by no centre.
func Global(kind Kind) Resource {
	return Resource{Kind: kind}
}

type Reason string

const (
	ReasonAdmin       Reason = "admin"
	ReasonRadiologist Reason = "radiologist"
	ReasonTenantMatch Reason = "tenant_match"
	ReasonNoTenant    Reason = "no_tenant"
	ReasonCrossTenant Reason = "cross_tenant"
	ReasonOperation   Reason = "operation_denied"
	ReasonUnknownRole Reason = "unknown_role"
)

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err returns nil for an allowed decision and a NotAuthorized error carrying
// the reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperror.NotAuthorized("authorize", "%s", d.Reason)
}

type grant map[Kind][]Operation

func (g grant) allows(kind Kind, op Operation) bool {
	for _, o := range g[kind] {
		if o == op {
			return true
		}
	}
	return false
}

// Radiologists review studies of every centre.
var radiologistGrant = grant{
	Study:  {Read, Assign, Transition, Enrich},
	Report: {Read, Create, Update, Verify},
	Centre: {Read},
}

var tenantGrants = map[identity.Role]grant{
	identity.RoleCentreOperator: {
		Study:         {Read, Create, Update, Assign, Transition, Enrich},
		Report:        {Read},
		Billing:       {Read, Create},
		Pricing:       {Read},
		ImagingSource: {Read, Create, Update, Delete},
		User:          {Read, Create},
		Centre:        {Read},
	},
	identity.RoleTechnician: {
		Study:         {Read, Create, Update, Transition, Enrich},
		Report:        {Read},
		ImagingSource: {Read},
		Centre:        {Read},
	},
	identity.RoleDoctor: {
		Study:  {Read},
		Report: {Read},
		Centre: {Read},
	},
}

// Authorize evaluates actor against resource and operation. Anything not
// explicitly granted is denied.
func Authorize(actor identity.Actor, res Resource, op Operation) Decision {
	switch actor.Role {
	case identity.RoleAdmin:
		return Decision{Allowed: true, Reason: ReasonAdmin}
	case identity.RoleRadiologist:
		if radiologistGrant.allows(res.Kind, op) {
			return Decision{Allowed: true, Reason: ReasonRadiologist}
		}
		return Decision{Reason: ReasonOperation}
	}

	g, ok := tenantGrants[actor.Role]
	if !ok {
		return Decision{Reason: ReasonUnknownRole}
	}
	if !actor.HasCentre() {
		return Decision{Reason: ReasonNoTenant}
	}
	if res.CentreID == nil || !actor.InCentre(*res.CentreID) {
		return Decision{Reason: ReasonCrossTenant}
	}
	if !g.allows(res.Kind, op) {
		return Decision{Reason: ReasonOperation}
	}
	return Decision{Allowed: true, Reason: ReasonTenantMatch}
}

// Check is Authorize followed by Err.
func Check(actor identity.Actor, res Resource, op Operation) error {
	return Authorize(actor, res, op).Err()
}

// ListScope resolves which centre an actor may list resources of kind from.
// A nil centre with a nil error means every centre.
func ListScope(actor identity.Actor, kind Kind) (*uuid.UUID, error) {
	if actor.Role.Valid() && !actor.Role.TenantScoped() {
		if err := Check(actor, Global(kind), Read); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !actor.HasCentre() {
		return nil, Authorize(actor, Global(kind), Read).Err()
	}
	centre := *actor.CentreID
	if err := Check(actor, On(kind, centre), Read); err != nil {
		return nil, err
	}
	return &centre, nil
}
