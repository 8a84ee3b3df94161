package access

import (
	"testing"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

// expected grants, written out independently of the evaluator's tables
var allowedInOwnCentre = map[identity.Role]map[string]bool{
	identity.RoleCentreOperator: set(
		"study:read", "study:create", "study:update", "study:assign", "study:transition", "study:enrich",
		"report:read",
		"billing:read", "billing:create",
		"pricing:read",
		"imaging_source:read", "imaging_source:create", "imaging_source:update", "imaging_source:delete",
		"user:read", "user:create",
		"centre:read",
	),
	identity.RoleTechnician: set(
		"study:read", "study:create", "study:update", "study:transition", "study:enrich",
		"report:read", "imaging_source:read", "centre:read",
	),
	identity.RoleDoctor: set("study:read", "report:read", "centre:read"),
}

var radiologistAllowed = set(
	"study:read", "study:assign", "study:transition", "study:enrich",
	"report:read", "report:create", "report:update", "report:verify",
	"centre:read",
)

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func key(k Kind, op Operation) string { return string(k) + ":" + string(op) }

func actorIn(role identity.Role, centre *uuid.UUID) identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: role, CentreID: centre}
}

func TestAuthorize_Admin(t *testing.T) {
	admin := actorIn(identity.RoleAdmin, nil)
	for _, k := range Kinds {
		for _, op := range Operations {
			for _, res := range []Resource{Global(k), On(k, uuid.New())} {
				d := Authorize(admin, res, op)
				if !d.Allowed || d.Reason != ReasonAdmin {
					t.Errorf("admin %s: expected allow, got %+v", key(k, op), d)
				}
			}
		}
	}
}

func TestAuthorize_Radiologist(t *testing.T) {
	own := uuid.New()
	rad := actorIn(identity.RoleRadiologist, &own)
	for _, k := range Kinds {
		for _, op := range Operations {
			want := radiologistAllowed[key(k, op)]
			for _, res := range []Resource{Global(k), On(k, own), On(k, uuid.New())} {
				d := Authorize(rad, res, op)
				if d.Allowed != want {
					t.Errorf("radiologist %s centre=%v: expected %v, got %+v", key(k, op), res.CentreID, want, d)
				}
			}
		}
	}
}

func TestAuthorize_TenantMatrix(t *testing.T) {
	own := uuid.New()
	other := uuid.New()
	for role, allowed := range allowedInOwnCentre {
		a := actorIn(role, &own)
		for _, k := range Kinds {
			for _, op := range Operations {
				want := allowed[key(k, op)]

				d := Authorize(a, On(k, own), op)
				if d.Allowed != want {
					t.Errorf("%s own %s: expected %v, got %+v", role, key(k, op), want, d)
				}
				if d.Allowed && d.Reason != ReasonTenantMatch {
					t.Errorf("%s own %s: expected tenant_match, got %s", role, key(k, op), d.Reason)
				}
				if !d.Allowed && d.Reason != ReasonOperation {
					t.Errorf("%s own %s: expected operation_denied, got %s", role, key(k, op), d.Reason)
				}

				// Another centre is always denied, whatever the operation.
				d = Authorize(a, On(k, other), op)
				if d.Allowed || d.Reason != ReasonCrossTenant {
					t.Errorf("%s cross %s: expected cross_tenant deny, got %+v", role, key(k, op), d)
				}

				d = Authorize(a, Global(k), op)
				if d.Allowed || d.Reason != ReasonCrossTenant {
					t.Errorf("%s global %s: expected cross_tenant deny, got %+v", role, key(k, op), d)
				}
			}
		}
	}
}

func TestAuthorize_NoTenant(t *testing.T) {
	for role := range allowedInOwnCentre {
		a := actorIn(role, nil)
		for _, k := range Kinds {
			for _, op := range Operations {
				d := Authorize(a, On(k, uuid.New()), op)
				if d.Allowed || d.Reason != ReasonNoTenant {
					t.Errorf("%s without centre %s: expected no_tenant, got %+v", role, key(k, op), d)
				}
			}
		}
	}
}

func TestAuthorize_UnknownRole(t *testing.T) {
	c := uuid.New()
	d := Authorize(actorIn(identity.Role("janitor"), &c), On(Study, c), Read)
	if d.Allowed || d.Reason != ReasonUnknownRole {
		t.Errorf("expected unknown_role deny, got %+v", d)
	}
}

func TestDecision_Err(t *testing.T) {
	if (Decision{Allowed: true, Reason: ReasonAdmin}).Err() != nil {
		t.Error("allowed decision must not produce an error")
	}
	err := Decision{Reason: ReasonCrossTenant}.Err()
	if !apperror.Is(err, apperror.KindNotAuthorized) {
		t.Errorf("expected NotAuthorized, got %v", err)
	}
}

func TestListScope(t *testing.T) {
	own := uuid.New()

	scope, err := ListScope(actorIn(identity.RoleAdmin, nil), Billing)
	if err != nil || scope != nil {
		t.Errorf("admin: expected all centres, got %v, %v", scope, err)
	}

	scope, err = ListScope(actorIn(identity.RoleRadiologist, nil), Study)
	if err != nil || scope != nil {
		t.Errorf("radiologist: expected all centres, got %v, %v", scope, err)
	}

	if _, err := ListScope(actorIn(identity.RoleRadiologist, nil), Billing); !apperror.Is(err, apperror.KindNotAuthorized) {
		t.Errorf("radiologist billing: expected NotAuthorized, got %v", err)
	}

	scope, err = ListScope(actorIn(identity.RoleTechnician, &own), Study)
	if err != nil || scope == nil || *scope != own {
		t.Errorf("technician: expected own centre, got %v, %v", scope, err)
	}

	if _, err := ListScope(actorIn(identity.RoleTechnician, nil), Study); !apperror.Is(err, apperror.KindNotAuthorized) {
		t.Errorf("technician without centre: expected NotAuthorized, got %v", err)
	}

	if _, err := ListScope(actorIn(identity.RoleDoctor, &own), Billing); !apperror.Is(err, apperror.KindNotAuthorized) {
		t.Errorf("doctor billing: expected NotAuthorized, got %v", err)
	}
}
