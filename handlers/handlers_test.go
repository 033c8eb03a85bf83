package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/authz"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/docstore/memory"
	"github.com/godamri/helix-triggers/domain"
	"github.com/godamri/helix-triggers/handlers"
	"github.com/godamri/helix-triggers/trigger"
)

type fixture struct {
	store *memory.Store
	d     *trigger.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	d := trigger.New(trigger.WithLogger(logger))
	err := handlers.Register(d, handlers.Deps{
		Store:  store,
		Audit:  audit.NewStoreLogger(store, "adminLogs", logger),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &fixture{store: store, d: d}
}

func (f *fixture) seed(t *testing.T, collection, id string, data docstore.Fields) {
	t.Helper()
	if err := f.store.Create(context.Background(), collection, id, data); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func (f *fixture) get(t *testing.T, collection, id string) *docstore.Snapshot {
	t.Helper()
	snap, err := f.store.Get(context.Background(), collection, id)
	if err != nil {
		t.Fatalf("get %s/%s: %v", collection, id, err)
	}
	return snap
}

// auditFor returns entries of the given type targeting id.
func (f *fixture) auditFor(typ audit.Type, id string) []docstore.Snapshot {
	var out []docstore.Snapshot
	for _, s := range f.store.List("adminLogs") {
		if s.String("type") == string(typ) && s.String("targetId") == id {
			out = append(out, s)
		}
	}
	return out
}

func orderCreated(eventID string, order docstore.Fields) trigger.ChangeEvent {
	return trigger.ChangeEvent{
		ID:         eventID,
		Collection: "orders",
		DocumentID: "o1",
		Operation:  trigger.OpCreate,
		After:      order,
	}
}

var o1 = docstore.Fields{"resId": "r1", "userId": "u1", "total": 42.50}

func TestOrderIntake_RestaurantNotAccepting(t *testing.T) {
	closed := docstore.Fields{"status": "closed", "name": "Luigi's"}
	tests := []struct {
		name       string
		restaurant docstore.Fields
		order      docstore.Fields
	}{
		{"closed", closed, o1},
		{"missing", nil, o1},
		{"unknown restaurant status", docstore.Fields{"status": "on_fire"}, o1},
		{"closed, unknown order status", closed, docstore.Fields{"resId": "r1", "userId": "u1", "total": 5, "status": "placed"}},
		{"closed, confirmed order", closed, docstore.Fields{"resId": "r1", "total": 5, "status": "confirmed"}},
		{"closed, non-numeric total", closed, docstore.Fields{"resId": "r1", "total": "lots"}},
		{"closed, negative total", closed, docstore.Fields{"resId": "r1", "total": -1}},
		{"missing, unknown order status", nil, docstore.Fields{"resId": "r1", "status": "placed", "total": "lots"}},
		{"no restaurant reference", closed, docstore.Fields{"userId": "u1", "total": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "orders", "o1", tt.order)
			if tt.restaurant != nil {
				f.seed(t, "restaurants", "r1", tt.restaurant)
			}

			out := f.d.Dispatch(context.Background(), orderCreated("chg_1", tt.order))
			if out.Status != trigger.StatusSuccess {
				t.Fatalf("status = %q (%v)", out.Status, out.Err)
			}

			order := f.get(t, "orders", "o1")
			if order.String("status") != "cancelled" || order.String("reason") != "Restaurant is closed" {
				t.Errorf("order = %v", order.Data)
			}
			if n := len(f.auditFor(audit.TypeSystemAction, "o1")); n != 0 {
				t.Errorf("SYSTEM_ACTION entries = %d, want 0", n)
			}
		})
	}
}

func TestOrderIntake_OpenRestaurantMalformedTotal(t *testing.T) {
	f := newFixture(t)
	order := docstore.Fields{"resId": "r1", "userId": "u1", "total": "lots"}
	f.seed(t, "orders", "o1", order)
	f.seed(t, "restaurants", "r1", docstore.Fields{"status": "open"})

	out := f.d.Dispatch(context.Background(), orderCreated("chg_1", order))
	if out.Status != trigger.StatusFailed {
		t.Fatalf("status = %q, want failed", out.Status)
	}
	if !errors.Is(out.Err, domain.ErrInvalidDocument) {
		t.Errorf("err = %v, want ErrInvalidDocument", out.Err)
	}
	if got := f.get(t, "orders", "o1").String("status"); got != "" {
		t.Errorf("order status = %q, want untouched", got)
	}
}

func TestOrderIntake_RestaurantOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "orders", "o1", o1)
	f.seed(t, "restaurants", "r1", docstore.Fields{"status": "open"})

	out := f.d.Dispatch(context.Background(), orderCreated("chg_1", o1))
	if out.Status != trigger.StatusSuccess {
		t.Fatalf("status = %q (%v)", out.Status, out.Err)
	}

	order := f.get(t, "orders", "o1")
	if _, ok := order.Data["status"]; ok {
		t.Errorf("order status was touched: %v", order.Data)
	}

	entries := f.auditFor(audit.TypeSystemAction, "o1")
	if len(entries) != 1 {
		t.Fatalf("SYSTEM_ACTION entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.String("action") != "NEW_ORDER_INITIALIZED" {
		t.Errorf("action = %q", e.String("action"))
	}
	if got, want := e.String("details"), "Order for $42.5 initialized by u1"; got != want {
		t.Errorf("details = %q, want %q", got, want)
	}

	// Redelivery of the same event does not add a second entry.
	f.d.Dispatch(context.Background(), orderCreated("chg_1", o1))
	if n := len(f.auditFor(audit.TypeSystemAction, "o1")); n != 1 {
		t.Errorf("after redelivery SYSTEM_ACTION entries = %d, want 1", n)
	}
}

func TestOrderIntake_Failures(t *testing.T) {
	t.Run("restaurant read fails", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "orders", "o1", o1)
		f.store.FailNext("get", "restaurants", docstore.ErrUnavailable)

		out := f.d.Dispatch(context.Background(), orderCreated("chg_1", o1))
		if out.Status != trigger.StatusFailed || !errors.Is(out.Err, docstore.ErrUnavailable) {
			t.Fatalf("outcome = %+v", out)
		}
		if order := f.get(t, "orders", "o1"); order.String("status") != "" {
			t.Errorf("order was modified: %v", order.Data)
		}
	})

	t.Run("audit append fails", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "orders", "o1", o1)
		f.seed(t, "restaurants", "r1", docstore.Fields{"status": "open"})
		f.store.FailNext("create", "adminLogs", docstore.ErrUnavailable)

		out := f.d.Dispatch(context.Background(), orderCreated("chg_1", o1))
		if out.Status != trigger.StatusFailed || !out.AuditGap {
			t.Fatalf("outcome = %+v", out)
		}
	})
}

func TestOrderIntake_ConcurrentOrders(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "restaurants", "open", docstore.Fields{"status": "open"})
	f.seed(t, "restaurants", "shut", docstore.Fields{"status": "closed"})

	const n = 40
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("o%d", i)
		res := "open"
		if i%2 == 1 {
			res = "shut"
		}
		data := docstore.Fields{"resId": res, "userId": "u1", "total": float64(i)}
		f.seed(t, "orders", id, data)

		evt := trigger.ChangeEvent{ID: "chg_" + id, Collection: "orders", DocumentID: id, Operation: trigger.OpCreate, After: data}
		if err := f.d.Submit(context.Background(), evt, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	f.d.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("o%d", i)
		order := f.get(t, "orders", id)
		entries := len(f.auditFor(audit.TypeSystemAction, id))
		if i%2 == 1 {
			if order.String("status") != "cancelled" || entries != 0 {
				t.Errorf("%s: status %q, entries %d", id, order.String("status"), entries)
			}
			continue
		}
		if order.String("status") != "" || entries != 1 {
			t.Errorf("%s: status %q, entries %d", id, order.String("status"), entries)
		}
	}
}

func TestRestaurantAuditor(t *testing.T) {
	f := newFixture(t)
	before := map[string]any{"status": "open", "name": "Luigi's"}
	after := map[string]any{"status": "closed", "name": "Luigi's"}

	// The same update applied twice is two events and two entries.
	for _, id := range []string{"chg_1", "chg_2"} {
		out := f.d.Dispatch(context.Background(), trigger.ChangeEvent{
			ID:         id,
			Collection: "restaurants",
			DocumentID: "r1",
			Operation:  trigger.OpUpdate,
			Before:     before,
			After:      after,
		})
		if out.Status != trigger.StatusSuccess {
			t.Fatalf("status = %q (%v)", out.Status, out.Err)
		}
	}

	entries := f.auditFor(audit.TypeAdminAction, "r1")
	if len(entries) != 2 {
		t.Fatalf("ADMIN_ACTION entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.String("action") != "RESTAURANT_UPDATE" {
			t.Errorf("action = %q", e.String("action"))
		}
		diff, _ := e.Data["diff"].(map[string]any)
		if !reflect.DeepEqual(diff["before"], before) || !reflect.DeepEqual(diff["after"], after) {
			t.Errorf("diff = %v", diff)
		}
	}
}

func TestRestaurantAuditor_IgnoresCreates(t *testing.T) {
	f := newFixture(t)
	out := f.d.Dispatch(context.Background(), trigger.ChangeEvent{
		ID: "chg_1", Collection: "restaurants", DocumentID: "r1", Operation: trigger.OpCreate,
		After: map[string]any{"status": "open"},
	})
	if out.Status != trigger.StatusUnmatched {
		t.Errorf("status = %q, want unmatched", out.Status)
	}
}

func blockUser(f *fixture, caller string, payload map[string]any) (any, error) {
	return f.d.Invoke(context.Background(), trigger.InvocationRequest{
		ID:       "req_" + caller,
		CallerID: caller,
		Name:     "secureBlockUser",
		Payload:  payload,
	})
}

func seedUsers(t *testing.T, f *fixture) {
	t.Helper()
	f.seed(t, "users", "root", docstore.Fields{"role": "super_admin", "status": "active"})
	f.seed(t, "users", "boss", docstore.Fields{"role": "admin", "status": "active"})
	f.seed(t, "users", "u1", docstore.Fields{"role": "user", "status": "active"})
	f.seed(t, "users", "u2", docstore.Fields{"role": "user", "status": "active"})
}

func TestSecureBlockUser_Denied(t *testing.T) {
	for _, caller := range []string{"boss", "u1", "ghost", ""} {
		t.Run("caller="+caller, func(t *testing.T) {
			f := newFixture(t)
			seedUsers(t, f)

			res, err := blockUser(f, caller, map[string]any{"uid": "u2"})
			if res != nil {
				t.Errorf("result = %v, want nil", res)
			}
			var fail *trigger.Failure
			if !errors.As(err, &fail) {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if fail.Code != "permission-denied" || fail.Message != "Only Super Admins can block users." {
				t.Errorf("failure = %+v", fail)
			}
			if got := f.get(t, "users", "u2").String("status"); got != "active" {
				t.Errorf("u2 status = %q, want active", got)
			}
			if n := len(f.auditFor(audit.TypeSecurityAction, "u2")); n != 0 {
				t.Errorf("SECURITY_ACTION entries = %d, want 0", n)
			}
		})
	}
}

type denyingGuard struct{ decision authz.Decision }

func (g denyingGuard) Authorize(context.Context, string, domain.Role) (authz.Decision, error) {
	return g.decision, nil
}

func TestSecureBlockUser_DenialCarriesGuardCode(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	guard := denyingGuard{authz.Decision{Code: authz.CodePermissionDenied, Message: "caller boss has role admin"}}
	h := handlers.NewBlockUser(memory.New(), guard, nil, logger)

	_, err := h.Invoke(context.Background(), trigger.InvocationRequest{CallerID: "boss", Payload: map[string]any{"uid": "u2"}})
	var fail *trigger.Failure
	if !errors.As(err, &fail) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if fail.Code != authz.CodePermissionDenied || fail.Message != "Only Super Admins can block users." {
		t.Errorf("failure = %+v", fail)
	}
	if !strings.Contains(logs.String(), "authz: permission denied: caller boss has role admin") {
		t.Errorf("denial reason not logged: %s", logs.String())
	}
}

func TestSecureBlockUser_Allowed(t *testing.T) {
	f := newFixture(t)
	seedUsers(t, f)

	res, err := blockUser(f, "root", map[string]any{"uid": "u2"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	want := handlers.BlockUserResult{Success: true, Message: "User u2 has been blocked."}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	if got := f.get(t, "users", "u2").String("status"); got != "blocked" {
		t.Errorf("u2 status = %q, want blocked", got)
	}

	entries := f.auditFor(audit.TypeSecurityAction, "u2")
	if len(entries) != 1 {
		t.Fatalf("SECURITY_ACTION entries = %d, want 1", len(entries))
	}
	if entries[0].String("adminId") != "root" || entries[0].String("action") != "USER_BLOCKED" {
		t.Errorf("entry = %v", entries[0].Data)
	}
}

func TestSecureBlockUser_Errors(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		setup    func(*memory.Store)
		wantCode string
	}{
		{"missing uid", map[string]any{}, nil, trigger.CodeInvalidArgument},
		{"non-string uid", map[string]any{"uid": 7}, nil, trigger.CodeInvalidArgument},
		{"unknown target", map[string]any{"uid": "nobody"}, nil, trigger.CodeNotFound},
		{
			"caller lookup unavailable", map[string]any{"uid": "u2"},
			func(s *memory.Store) { s.FailNext("get", "users", docstore.ErrUnavailable) },
			trigger.CodeUnavailable,
		},
		{
			"internal store error", map[string]any{"uid": "u2"},
			func(s *memory.Store) { s.FailNext("update", "users", errors.New("disk full")) },
			trigger.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seedUsers(t, f)
			if tt.setup != nil {
				tt.setup(f.store)
			}

			_, err := blockUser(f, "root", tt.payload)
			var fail *trigger.Failure
			if !errors.As(err, &fail) {
				t.Fatalf("err = %v, want *Failure", err)
			}
			if fail.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", fail.Code, tt.wantCode)
			}
			if n := len(f.store.List("adminLogs")); n != 0 {
				t.Errorf("audit entries = %d, want 0", n)
			}
		})
	}
}

func TestSecureBlockUser_AuditFailureAfterBlock(t *testing.T) {
	f := newFixture(t)
	seedUsers(t, f)
	f.store.FailNext("create", "adminLogs", docstore.ErrUnavailable)

	_, err := blockUser(f, "root", map[string]any{"uid": "u2"})
	var fail *trigger.Failure
	if !errors.As(err, &fail) || fail.Code != trigger.CodeUnavailable {
		t.Fatalf("err = %v, want unavailable failure", err)
	}
	// The mutation is kept; the trail has a gap.
	if got := f.get(t, "users", "u2").String("status"); got != "blocked" {
		t.Errorf("u2 status = %q, want blocked", got)
	}
}
