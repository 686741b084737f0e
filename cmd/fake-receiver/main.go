package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/austindbirch/harbor_fanout/internal/config"
	"github.com/austindbirch/harbor_fanout/internal/logging"
)

// receiver is a flaky duplicate target: it fails the first FailFirstN
// requests with FailStatus and optionally delays every response.
type receiver struct {
	cfg    config.FakeReceiver
	count  atomic.Int64
	logger *logging.Logger
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	if cfg.FailStatus < 400 || cfg.FailStatus > 599 {
		cfg.FailStatus = http.StatusInternalServerError
	}
	return &receiver{cfg: cfg, logger: logger}
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"received":%d}`, rc.count.Load())
	})
	mux.HandleFunc("/", rc.handle)
	return mux
}

func (rc *receiver) handle(w http.ResponseWriter, r *http.Request) {
	n := rc.count.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if d := time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond; d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	entry := rc.logger.Plain().WithRequest(r.Header.Get("X-Request-Id")).WithFields(map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"headers": len(r.Header),
		"body":    truncate(string(b), 160),
		"count":   n,
	})

	// Simulate flakiness: first N requests fail
	if n <= int64(rc.cfg.FailFirstN) {
		entry.WithField("status", rc.cfg.FailStatus).Warn("failing request")
		http.Error(w, "temporary failure", rc.cfg.FailStatus)
		return
	}

	entry.Info("request received")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

func main() {
	cfg := config.FromEnv().FakeReceiver
	logger := logging.New("fake-receiver")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rc := newReceiver(cfg, logger)
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":         cfg.Port,
			"fail_first_n": cfg.FailFirstN,
			"fail_status":  rc.cfg.FailStatus,
			"delay_ms":     cfg.ResponseDelayMS,
		}).Info("fake-receiver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("fake-receiver failed")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	logger.Plain().WithField("received", rc.count.Load()).Info("fake-receiver stopped")
}
