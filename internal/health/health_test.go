package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPool struct {
	pingErr error
}

func (m *mockPool) Ping(ctx context.Context) error {
	return m.pingErr
}

type mockWorkers struct {
	running bool
	n       int
}

func (m mockWorkers) Running() bool { return m.running }
func (m mockWorkers) Workers() int  { return m.n }

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name           string
		workers        Workers
		db             Pinger
		expectedStatus int
		expected       Status
	}{
		{
			name:           "running without database",
			workers:        mockWorkers{running: true, n: 16},
			expectedStatus: http.StatusOK,
			expected:       Status{OK: true, Message: "ok", Dispatcher: true, Workers: 16},
		},
		{
			name:           "running with healthy database",
			workers:        mockWorkers{running: true, n: 4},
			db:             &mockPool{},
			expectedStatus: http.StatusOK,
			expected:       Status{OK: true, Message: "ok", Dispatcher: true, Workers: 4, Database: true},
		},
		{
			name:           "database ping fails",
			workers:        mockWorkers{running: true, n: 4},
			db:             &mockPool{pingErr: errors.New("connection refused")},
			expectedStatus: http.StatusServiceUnavailable,
			expected:       Status{OK: false, Message: "db ping failed", Dispatcher: true, Workers: 4},
		},
		{
			name:           "dispatcher stopped",
			workers:        mockWorkers{running: false, n: 16},
			expectedStatus: http.StatusServiceUnavailable,
			expected:       Status{OK: false, Message: "dispatcher not running", Workers: 16},
		},
		{
			name:           "nothing to check",
			expectedStatus: http.StatusOK,
			expected:       Status{OK: true, Message: "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(NewChecker(tt.workers, tt.db))

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("HTTPHandler() status = %v, want %v", w.Code, tt.expectedStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("HTTPHandler() Content-Type = %q, want application/json", ct)
			}

			var got Status
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got != tt.expected {
				t.Errorf("HTTPHandler() body = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestStatusJSONOmitempty(t *testing.T) {
	data, err := json.Marshal(Status{OK: true})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"ok":true,"dispatcher":false}`
	if string(data) != want {
		t.Errorf("json.Marshal() = %s, want %s", data, want)
	}
}

func TestServingStatus(t *testing.T) {
	if got := ServingStatus(Status{OK: true}); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("ServingStatus(ok) = %v, want SERVING", got)
	}
	if got := ServingStatus(Status{OK: false}); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("ServingStatus(!ok) = %v, want NOT_SERVING", got)
	}
}

func TestSyncGRPC(t *testing.T) {
	srv := grpchealth.NewServer()
	pool := &mockPool{pingErr: errors.New("down")}
	c := NewChecker(mockWorkers{running: true, n: 1}, pool)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.SyncGRPC(ctx, srv, "harborfanout", 10*time.Millisecond)
		close(done)
	}()

	check := func(service string, want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
			if err == nil && resp.GetStatus() == want {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("Check(%q) = %v, %v; want %v", service, resp.GetStatus(), err, want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	check("harborfanout", healthpb.HealthCheckResponse_NOT_SERVING)
	check("", healthpb.HealthCheckResponse_NOT_SERVING)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SyncGRPC did not return after cancel")
	}
}
