package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/ha1tch/pgo/pgo"
	"github.com/ha1tch/pgo/pgo/compiler"
	"github.com/ha1tch/pgo/pgo/profiler"
)

func newTestRegistry(t *testing.T) *pgo.Registry {
	t.Helper()
	dir := t.TempDir()
	driver := compiler.NewDriver(dir)
	recorder := profiler.NewRecorder(0)
	reg, err := pgo.NewRegistry(dir, driver, recorder, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() {
		reg.Close(context.Background())
	})
	return reg
}

func TestHandleHealthReportsOK(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.handleHealth(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got healthView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Audit != "ok" {
		t.Fatalf("health = %+v, want both ok", got)
	}
}

func TestHandleStatusEmptyRegistryReturnsEmptyArray(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	s.handleStatus(rr, req)

	if rr.Code != 200 {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got []funcView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("status = %+v, want empty", got)
	}
}

func TestHandleStatusRejectsNonGet(t *testing.T) {
	reg := newTestRegistry(t)
	s := New(reg, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/status", nil)
	s.handleStatus(rr, req)

	if rr.Code != 405 {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}
