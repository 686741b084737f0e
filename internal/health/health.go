package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Workers reports on the delivery worker pool.
type Workers interface {
	Running() bool
	Workers() int
}

type Status struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	Dispatcher bool   `json:"dispatcher"`
	Workers    int    `json:"workers,omitempty"`
	Database   bool   `json:"database,omitempty"`
}

// Checker combines the worker pool state with an optional database ping.
type Checker struct {
	workers Workers
	db      Pinger
	timeout time.Duration
}

// NewChecker returns a checker for w. db may be nil when no database is used.
func NewChecker(w Workers, db Pinger) *Checker {
	return &Checker{workers: w, db: db, timeout: time.Second}
}

// Check reports unhealthy when the workers have stopped or the database does
// not answer a ping.
func (c *Checker) Check(ctx context.Context) Status {
	st := Status{OK: true, Message: "ok"}

	if c.workers != nil {
		st.Dispatcher = c.workers.Running()
		st.Workers = c.workers.Workers()
		if !st.Dispatcher {
			st.OK = false
			st.Message = "dispatcher not running"
		}
	}

	if c.db != nil {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			st.OK = false
			st.Message = "db ping failed"
		} else {
			st.Database = true
		}
	}
	return st
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(c *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}

// ServingStatus maps a check result onto the gRPC health protocol.
func ServingStatus(st Status) healthpb.HealthCheckResponse_ServingStatus {
	if st.OK {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// SyncGRPC updates srv for service and the overall "" entry every interval
// until ctx is done.
func (c *Checker) SyncGRPC(ctx context.Context, srv *grpchealth.Server, service string, interval time.Duration) {
	update := func() {
		s := ServingStatus(c.Check(ctx))
		srv.SetServingStatus("", s)
		srv.SetServingStatus(service, s)
	}
	update()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
