package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tos-network/statsserver/internal/registry"
	"github.com/tos-network/statsserver/internal/share"
	"github.com/tos-network/statsserver/internal/stats"
)

func newTestServer() (*Server, *registry.Registry) {
	reg := registry.New()
	s := NewServer(Config{Bind: ":0"}, reg)
	return s, reg
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestServerStatus(t *testing.T) {
	s, reg := newTestServer()
	reg.GetOrCreate(share.WorkerKey{UserID: 1, WorkerID: 1}).ProcessShare(
		&share.Share{UserID: 1, WorkerID: 1, Result: share.ResultAccept, Timestamp: 100, ShareValue: 1})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body ServerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.WorkerCount != 1 {
		t.Errorf("WorkerCount = %d, want 1", body.WorkerCount)
	}
}

func TestWorkerStatusMissingUserID(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/worker_status?worker_id=1", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWorkerStatusTooManyWorkerIDs(t *testing.T) {
	s, _ := newTestServer()

	ids := make([]byte, 0, 4*(maxWorkerIDs+1))
	for i := 0; i < maxWorkerIDs+1; i++ {
		if i > 0 {
			ids = append(ids, ',')
		}
		ids = append(ids, []byte("1")...)
	}

	req := httptest.NewRequest(http.MethodGet, "/worker_status?user_id=1&worker_id="+string(ids), nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWorkerStatusAbsentKeyYieldsZero(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/worker_status?user_id=1&worker_id=99", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]stats.WorkerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	st, ok := body["99"]
	if !ok {
		t.Fatal("missing worker 99 in response")
	}
	if st.AcceptCount != 0 {
		t.Errorf("AcceptCount = %d, want 0", st.AcceptCount)
	}
}

func TestWorkerStatusPerWorker(t *testing.T) {
	s, reg := newTestServer()
	reg.GetOrCreate(share.WorkerKey{UserID: 1, WorkerID: 2}).ProcessShare(
		&share.Share{UserID: 1, WorkerID: 2, Result: share.ResultAccept, Timestamp: 100, ShareValue: 4, IP: 0x01020304})

	req := httptest.NewRequest(http.MethodGet, "/worker_status?user_id=1&worker_id=2&is_merge=0", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body map[string]stats.WorkerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	st := body["2"]
	if st.AcceptCount != 1 || st.LastShareIP != 0x01020304 {
		t.Errorf("got %+v, want AcceptCount=1 LastShareIP=0x01020304", st)
	}
}

func TestWorkerStatusMerge(t *testing.T) {
	s, reg := newTestServer()
	reg.GetOrCreate(share.WorkerKey{UserID: 1, WorkerID: 1}).ProcessShare(
		&share.Share{UserID: 1, WorkerID: 1, Result: share.ResultAccept, Timestamp: 100, ShareValue: 1})
	reg.GetOrCreate(share.WorkerKey{UserID: 1, WorkerID: 2}).ProcessShare(
		&share.Share{UserID: 1, WorkerID: 2, Result: share.ResultAccept, Timestamp: 100, ShareValue: 1})

	req := httptest.NewRequest(http.MethodGet, "/worker_status?user_id=1&worker_id=1,2&is_merge=1", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var merged stats.WorkerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &merged); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if merged.AcceptCount != 2 {
		t.Errorf("merged AcceptCount = %d, want 2", merged.AcceptCount)
	}
}

func TestAccountingMiddlewareIncrementsCounters(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if s.requestCount != 1 {
		t.Errorf("requestCount = %d, want 1", s.requestCount)
	}
	if s.responseBytes == 0 {
		t.Error("responseBytes should be nonzero after a successful response")
	}
}
