package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/codegen"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

var admin = identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin}

type fixture struct {
	svc         *Service
	studies     *study.MemStudyRepo
	billings    *MemBillingRepo
	alpha, beta uuid.UUID
	opAlpha     identity.Actor
	opBeta      identity.Actor
	techAlpha   identity.Actor
	rad         identity.Actor
}

func tenant(role identity.Role, centre uuid.UUID) identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: role, CentreID: &centre}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	centres := tenancy.NewMemCentreRepo()
	alpha := &tenancy.Centre{Name: "Alpha", IsActive: true}
	beta := &tenancy.Centre{Name: "Beta", IsActive: true}
	for _, c := range []*tenancy.Centre{alpha, beta} {
		if err := centres.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		studies:  study.NewMemStudyRepo(),
		billings: NewMemBillingRepo(),
		alpha:    alpha.ID,
		beta:     beta.ID,
		rad:      identity.Actor{ID: uuid.New(), Role: identity.RoleRadiologist},
	}
	f.opAlpha = tenant(identity.RoleCentreOperator, f.alpha)
	f.opBeta = tenant(identity.RoleCentreOperator, f.beta)
	f.techAlpha = tenant(identity.RoleTechnician, f.alpha)
	f.svc = NewService(f.billings, NewMemPricingRepo(), f.studies, centres, db.NewLocalTransactor(), zerolog.Nop())
	return f
}

func (f *fixture) study(t *testing.T, centre uuid.UUID, m study.Modality) *study.Study {
	t.Helper()
	code, err := codegen.StudyCode.Next()
	if err != nil {
		t.Fatal(err)
	}
	st := &study.Study{
		StudyCode: code, PatientName: "Jane Roe", Modality: m,
		CentreID: centre, CreatedByID: uuid.New(), Status: study.StatusUploaded,
		StorageLocation: "Alpha/" + code, NumInstances: 1,
	}
	if err := f.studies.Create(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	return st
}

func assertKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	if !apperror.Is(err, kind) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

func TestCreateBilling_ExplicitAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.study(t, f.alpha, study.ModalityCT)

	b, err := f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: st.ID, Amount: 120.5, Currency: CurrencyINR})
	if err != nil {
		t.Fatal(err)
	}
	if b.Amount != 120.5 || b.Currency != CurrencyINR || b.Status != StatusPending || b.CentreID != f.alpha {
		t.Errorf("unexpected billing: %+v", b)
	}
	if !codegen.InvoiceNumber.Valid(b.InvoiceNumber) {
		t.Errorf("invalid invoice number %q", b.InvoiceNumber)
	}

	_, err = f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: st.ID, Amount: 10})
	assertKind(t, err, apperror.KindConflict)
}

func TestCreateBilling_PricingFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ct := f.study(t, f.alpha, study.ModalityCT)
	mri := f.study(t, f.alpha, study.ModalityMRI)

	_, err := f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: ct.ID})
	assertKind(t, err, apperror.KindValidation)

	price := &PricingConfig{CentreID: f.alpha, Modality: study.ModalityCT, Price: 300, Currency: CurrencyAED}
	if err := f.svc.CreatePricing(ctx, admin, price); err != nil {
		t.Fatal(err)
	}

	b, err := f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: ct.ID})
	if err != nil {
		t.Fatal(err)
	}
	if b.Amount != 300 || b.Currency != CurrencyAED {
		t.Errorf("pricing not applied: %+v", b)
	}

	b, err = f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: mri.ID, Amount: 50})
	if err != nil {
		t.Fatal(err)
	}
	if b.Currency != CurrencyUSD {
		t.Errorf("expected usd default, got %s", b.Currency)
	}
}

func TestCreateBilling_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.study(t, f.alpha, study.ModalityCT)

	for _, a := range []identity.Actor{f.opBeta, f.techAlpha, f.rad} {
		_, err := f.svc.CreateBilling(ctx, a, BillingInput{StudyID: st.ID, Amount: 10})
		assertKind(t, err, apperror.KindNotAuthorized)
	}
	_, err := f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: uuid.New(), Amount: 10})
	assertKind(t, err, apperror.KindNotFound)
	_, err = f.svc.CreateBilling(ctx, f.opAlpha, BillingInput{StudyID: st.ID, Amount: 10, Currency: "eur"})
	assertKind(t, err, apperror.KindValidation)
}

func TestBillingReadsAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.study(t, f.alpha, study.ModalityCT)
	b := f.study(t, f.beta, study.ModalityCT)

	ba, err := f.svc.CreateBilling(ctx, admin, BillingInput{StudyID: a.ID, Amount: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateBilling(ctx, admin, BillingInput{StudyID: b.ID, Amount: 20}); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.GetBillingForStudy(ctx, f.opAlpha, a.ID)
	if err != nil || got.ID != ba.ID {
		t.Fatalf("billing for study: %v", err)
	}
	_, err = f.svc.GetBilling(ctx, f.opBeta, ba.ID)
	assertKind(t, err, apperror.KindNotAuthorized)

	_, total, err := f.svc.ListBillings(ctx, f.opAlpha, BillingFilter{}, 10, 0)
	if err != nil || total != 1 {
		t.Errorf("operator list: total=%d err=%v", total, err)
	}
	_, total, _ = f.svc.ListBillings(ctx, admin, BillingFilter{}, 10, 0)
	if total != 2 {
		t.Errorf("admin list: total=%d", total)
	}
	_, _, err = f.svc.ListBillings(ctx, f.opAlpha, BillingFilter{CentreID: &f.beta}, 10, 0)
	assertKind(t, err, apperror.KindNotAuthorized)
	_, _, err = f.svc.ListBillings(ctx, f.rad, BillingFilter{}, 10, 0)
	assertKind(t, err, apperror.KindNotAuthorized)

	_, err = f.svc.UpdateBillingStatus(ctx, f.opAlpha, ba.ID, "paid")
	assertKind(t, err, apperror.KindNotAuthorized)
	_, err = f.svc.UpdateBillingStatus(ctx, admin, ba.ID, "  ")
	assertKind(t, err, apperror.KindValidation)
	upd, err := f.svc.UpdateBillingStatus(ctx, admin, ba.ID, " paid ")
	if err != nil || upd.Status != "paid" {
		t.Fatalf("update status: %v", err)
	}
	paid := "paid"
	_, total, _ = f.svc.ListBillings(ctx, admin, BillingFilter{Status: &paid}, 10, 0)
	if total != 1 {
		t.Errorf("status filter: total=%d", total)
	}
}

func TestPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := &PricingConfig{CentreID: f.alpha, Modality: study.ModalityXRay, Price: 40}
	assertKind(t, f.svc.CreatePricing(ctx, f.opAlpha, p), apperror.KindNotAuthorized)
	if err := f.svc.CreatePricing(ctx, admin, p); err != nil {
		t.Fatal(err)
	}
	if p.Currency != CurrencyUSD {
		t.Errorf("expected usd default, got %s", p.Currency)
	}
	dup := &PricingConfig{CentreID: f.alpha, Modality: study.ModalityXRay, Price: 45}
	assertKind(t, f.svc.CreatePricing(ctx, admin, dup), apperror.KindConflict)
	bad := &PricingConfig{CentreID: f.alpha, Modality: study.ModalityCT, Price: 0}
	assertKind(t, f.svc.CreatePricing(ctx, admin, bad), apperror.KindValidation)
	ghost := &PricingConfig{CentreID: uuid.New(), Modality: study.ModalityCT, Price: 5}
	assertKind(t, f.svc.CreatePricing(ctx, admin, ghost), apperror.KindNotFound)

	price := 55.0
	cur := CurrencyINR
	got, err := f.svc.UpdatePricing(ctx, admin, p.ID, PricingUpdate{Price: &price, Currency: &cur})
	if err != nil || got.Price != 55 || got.Currency != CurrencyINR {
		t.Fatalf("update pricing: %+v %v", got, err)
	}
	neg := -1.0
	_, err = f.svc.UpdatePricing(ctx, admin, p.ID, PricingUpdate{Price: &neg})
	assertKind(t, err, apperror.KindValidation)
	_, err = f.svc.UpdatePricing(ctx, f.opAlpha, p.ID, PricingUpdate{Price: &price})
	assertKind(t, err, apperror.KindNotAuthorized)

	if _, err := f.svc.GetPricing(ctx, f.opAlpha, p.ID); err != nil {
		t.Errorf("operator read own pricing: %v", err)
	}
	_, err = f.svc.GetPricing(ctx, f.opBeta, p.ID)
	assertKind(t, err, apperror.KindNotAuthorized)

	_, total, err := f.svc.ListPricing(ctx, f.opAlpha, nil, 10, 0)
	if err != nil || total != 1 {
		t.Errorf("operator pricing list: total=%d err=%v", total, err)
	}
	_, total, _ = f.svc.ListPricing(ctx, f.opBeta, nil, 10, 0)
	if total != 0 {
		t.Errorf("beta should see no pricing, got %d", total)
	}
	_, _, err = f.svc.ListPricing(ctx, f.techAlpha, nil, 10, 0)
	assertKind(t, err, apperror.KindNotAuthorized)
}

func TestCurrency(t *testing.T) {
	for in, want := range map[string]Currency{"USD": CurrencyUSD, " inr ": CurrencyINR, "aed": CurrencyAED} {
		got, err := ParseCurrency(in)
		if err != nil || got != want {
			t.Errorf("ParseCurrency(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCurrency("gbp"); err == nil {
		t.Error("expected error for gbp")
	}
}
