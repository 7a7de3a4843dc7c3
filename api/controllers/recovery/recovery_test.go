package recovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/kitchenshare-backend/api/middleware"
	recoverysvc "github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db/models"
	"github.com/angelmondragon/kitchenshare-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitchenshare-backend/pkg/errors"
	"github.com/angelmondragon/kitchenshare-backend/pkg/pagination"
)

type stubService struct {
	createFn  func(params recoverysvc.CreateObligationParams) (*models.ChargeableObligation, bool, error)
	triggerFn func(id uuid.UUID) (*recoverysvc.Result, error)
	resolveFn func(id uuid.UUID, note string) (*recoverysvc.Result, error)
	updateFn  func(chefID uuid.UUID, pm, customer string) (int, error)
	tokenFn   func(token string) (*recoverysvc.SessionView, error)
	listFn    func(params pagination.Params) (*recoverysvc.SessionList, error)
}

func (s *stubService) CreateObligation(_ context.Context, params recoverysvc.CreateObligationParams) (*models.ChargeableObligation, bool, error) {
	return s.createFn(params)
}

func (s *stubService) GetObligation(_ context.Context, id uuid.UUID) (*recoverysvc.ObligationDetail, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "obligation not found")
}

func (s *stubService) TriggerRecovery(_ context.Context, id uuid.UUID) (*recoverysvc.Result, error) {
	return s.triggerFn(id)
}

func (s *stubService) ResolveOutOfBand(_ context.Context, id uuid.UUID, note string) (*recoverysvc.Result, error) {
	return s.resolveFn(id, note)
}

func (s *stubService) Reconcile(_ context.Context, id uuid.UUID) (*recoverysvc.Result, error) {
	return &recoverysvc.Result{ObligationID: id, Skipped: true, SkipReason: recoverysvc.SkipConsistent}, nil
}

func (s *stubService) ListOutstanding(_ context.Context, chefID uuid.UUID) (*recoverysvc.Outstanding, error) {
	return &recoverysvc.Outstanding{ChefID: chefID, HasUnresolved: true}, nil
}

func (s *stubService) UpdatePaymentMethod(_ context.Context, chefID uuid.UUID, pm, customer string) (int, error) {
	return s.updateFn(chefID, pm, customer)
}

func (s *stubService) ListActiveSessions(_ context.Context, params pagination.Params) (*recoverysvc.SessionList, error) {
	return s.listFn(params)
}

func (s *stubService) ExpireSession(_ context.Context, id uuid.UUID) (*recoverysvc.Result, error) {
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session has not expired")
}

func (s *stubService) FindSessionByToken(_ context.Context, token string) (*recoverysvc.SessionView, error) {
	return s.tokenFn(token)
}

func withParams(req *http.Request, kv ...string) *http.Request {
	rc := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rc.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestAdminCreateObligation(t *testing.T) {
	chefID := uuid.New()
	var captured recoverysvc.CreateObligationParams
	svc := &stubService{createFn: func(params recoverysvc.CreateObligationParams) (*models.ChargeableObligation, bool, error) {
		captured = params
		return &models.ChargeableObligation{ID: uuid.New(), ChefID: params.ChefID}, true, nil
	}}

	body := `{"kind":"overstay_penalty","chef_id":"` + chefID.String() + `","amount_minor":15000,"currency":"USD","payment_method_ref":" ccof_1 ","source_event_ref":"booking-9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/obligations", strings.NewReader(body))
	resp := httptest.NewRecorder()
	AdminCreateObligation(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Kind != enums.ObligationKindOverstayPenalty || captured.ChefID != chefID {
		t.Fatalf("unexpected params %+v", captured)
	}
	if captured.PaymentMethodRef != "ccof_1" || captured.Currency != enums.CurrencyUSD {
		t.Fatalf("unexpected params %+v", captured)
	}
}

func TestAdminCreateObligationValidatesBody(t *testing.T) {
	svc := &stubService{}
	for _, body := range []string{
		`{"kind":"overstay_penalty","chef_id":"` + uuid.NewString() + `","amount_minor":0,"currency":"USD"}`,
		`{"kind":"parking","chef_id":"` + uuid.NewString() + `","amount_minor":100,"currency":"USD"}`,
		`{"kind":"damage_claim","chef_id":"nope","amount_minor":100,"currency":"USD"}`,
		`{"kind":"damage_claim","chef_id":"` + uuid.NewString() + `","amount_minor":100,"currency":"USD","extra":true}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		resp := httptest.NewRecorder()
		AdminCreateObligation(svc, nil).ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, resp.Code)
		}
	}
}

func TestAdminTriggerRecoveryReturnsResult(t *testing.T) {
	id := uuid.New()
	svc := &stubService{triggerFn: func(got uuid.UUID) (*recoverysvc.Result, error) {
		if got != id {
			t.Fatalf("unexpected id %s", got)
		}
		return &recoverysvc.Result{ObligationID: id, Status: enums.ObligationStatusChargeSucceeded}, nil
	}}

	req := withParams(httptest.NewRequest(http.MethodPost, "/", nil), "obligationId", id.String())
	resp := httptest.NewRecorder()
	AdminTriggerRecovery(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data recoverysvc.Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Status != enums.ObligationStatusChargeSucceeded {
		t.Fatalf("unexpected status %s", envelope.Data.Status)
	}
}

func TestAdminTriggerRecoveryLeaseHeld(t *testing.T) {
	svc := &stubService{triggerFn: func(uuid.UUID) (*recoverysvc.Result, error) {
		return nil, pkgerrors.New(pkgerrors.CodeLeaseHeld, "recovery already in progress")
	}}
	req := withParams(httptest.NewRequest(http.MethodPost, "/", nil), "obligationId", uuid.NewString())
	resp := httptest.NewRecorder()
	AdminTriggerRecovery(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeLeaseHeld) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestAdminResolveObligationRequiresNote(t *testing.T) {
	svc := &stubService{resolveFn: func(uuid.UUID, string) (*recoverysvc.Result, error) {
		t.Fatal("service should not be called")
		return nil, nil
	}}
	req := withParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":""}`)), "obligationId", uuid.NewString())
	resp := httptest.NewRecorder()
	AdminResolveObligation(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminObligationDetailRejectsBadID(t *testing.T) {
	req := withParams(httptest.NewRequest(http.MethodGet, "/", nil), "obligationId", "abc")
	resp := httptest.NewRecorder()
	AdminObligationDetail(&stubService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req = withParams(httptest.NewRequest(http.MethodGet, "/", nil), "obligationId", uuid.NewString())
	resp = httptest.NewRecorder()
	AdminObligationDetail(&stubService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestChefScopeForbidsOtherChefs(t *testing.T) {
	own := uuid.New()
	svc := &stubService{}

	req := withParams(httptest.NewRequest(http.MethodGet, "/", nil), "chefId", uuid.NewString())
	req = req.WithContext(middleware.WithActor(req.Context(), own.String(), string(enums.ActorRoleChef)))
	resp := httptest.NewRecorder()
	ChefOutstanding(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}

	req = withParams(httptest.NewRequest(http.MethodGet, "/", nil), "chefId", own.String())
	req = req.WithContext(middleware.WithActor(req.Context(), own.String(), string(enums.ActorRoleChef)))
	resp = httptest.NewRecorder()
	ChefOutstanding(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	req = withParams(httptest.NewRequest(http.MethodGet, "/", nil), "chefId", uuid.NewString())
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.NewString(), string(enums.ActorRoleService)))
	resp = httptest.NewRecorder()
	ChefOutstanding(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("service callers may query any chef, got %d", resp.Code)
	}
}

func TestChefUpdatePaymentMethod(t *testing.T) {
	chefID := uuid.New()
	svc := &stubService{updateFn: func(got uuid.UUID, pm, customer string) (int, error) {
		if got != chefID || pm != "ccof_new" || customer != "cust_1" {
			t.Fatalf("unexpected args %s %s %s", got, pm, customer)
		}
		return 2, nil
	}}
	req := withParams(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"payment_method_ref":"ccof_new","processor_customer_ref":"cust_1"}`)), "chefId", chefID.String())
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.NewString(), string(enums.ActorRoleAdmin)))
	resp := httptest.NewRecorder()
	ChefUpdatePaymentMethod(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data paymentMethodResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Updated != 2 {
		t.Fatalf("expected 2 updated, got %d", envelope.Data.Updated)
	}
}

func TestPublicRecoverySessionClosed(t *testing.T) {
	svc := &stubService{tokenFn: func(token string) (*recoverysvc.SessionView, error) {
		if token != "tok" {
			t.Fatalf("unexpected token %s", token)
		}
		return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "recovery session is no longer active")
	}}
	req := withParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", "tok")
	resp := httptest.NewRecorder()
	PublicRecoverySession(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusGone {
		t.Fatalf("expected 410 got %d", resp.Code)
	}
}

func TestPublicRecoverySessionHidesInternalIDs(t *testing.T) {
	svc := &stubService{tokenFn: func(string) (*recoverysvc.SessionView, error) {
		return &recoverysvc.SessionView{
			Mode:        enums.RecoverySessionModeCollectNewInstrument,
			State:       enums.RecoverySessionStateActive,
			LinkURL:     "https://pay.kitchenshare.test/recover/tok",
			Kind:        enums.ObligationKindDamageClaim,
			AmountMinor: 12000,
			Currency:    enums.CurrencyUSD,
		}, nil
	}}
	req := withParams(httptest.NewRequest(http.MethodGet, "/", nil), "token", "tok")
	resp := httptest.NewRecorder()
	PublicRecoverySession(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key := range body.Data {
		if strings.HasSuffix(key, "_id") || key == "id" {
			t.Fatalf("public view exposes %q", key)
		}
	}
	if body.Data["amount_minor"] != float64(12000) {
		t.Fatalf("unexpected amount %v", body.Data["amount_minor"])
	}
}

func TestAdminListRecoverySessionsForwardsPaging(t *testing.T) {
	svc := &stubService{listFn: func(params pagination.Params) (*recoverysvc.SessionList, error) {
		if params.Limit != 10 || params.Cursor != "abc" {
			t.Fatalf("unexpected params %+v", params)
		}
		return &recoverysvc.SessionList{}, nil
	}}
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	resp := httptest.NewRecorder()
	AdminListRecoverySessions(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	resp = httptest.NewRecorder()
	AdminListRecoverySessions(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
