package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/austindbirch/harbor_fanout/internal/auth"
	"github.com/austindbirch/harbor_fanout/internal/config"
	"github.com/austindbirch/harbor_fanout/internal/delivery"
	"github.com/austindbirch/harbor_fanout/internal/logging"
)

func TestFlushAuthenticator(t *testing.T) {
	_, pub, err := auth.GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	tests := []struct {
		name     string
		cfg      config.Auth
		wantNil  bool
		wantErr  bool
		wantCode int
	}{
		{name: "no key leaves route open", cfg: config.Auth{}, wantNil: true},
		{name: "bad key", cfg: config.Auth{FlushPublicKeyPEM: "garbage"}, wantErr: true},
		{
			name:     "key requires a token",
			cfg:      config.Auth{FlushPublicKeyPEM: pub, Issuer: "harborfanout", Audience: "harborfanout-admin"},
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, err := flushAuthenticator(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("flushAuthenticator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if mw != nil {
					t.Error("flushAuthenticator() returned middleware without a key")
				}
				return
			}
			rec := httptest.NewRecorder()
			mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flush/low_priority", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestQueueDepth(t *testing.T) {
	q := delivery.NewQueues(4, 4, nil)
	req := delivery.NewSharedRequest(http.MethodGet, nil, nil)
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(context.Background(), delivery.NewTask("http://a.example/", req, 1, delivery.Low)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	depth := queueDepth(q.Counters())
	tests := []struct {
		name string
		want int64
	}{
		{name: "high", want: 0},
		{name: "low", want: 2},
		{name: "bogus", want: 0},
	}
	for _, tt := range tests {
		if got := depth(tt.name); got != tt.want {
			t.Errorf("depth(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestPriorityNames(t *testing.T) {
	got := priorityNames()
	if len(got) != 2 || got[0] != "high" || got[1] != "low" {
		t.Errorf("priorityNames() = %v, want [high low]", got)
	}
}

func TestOpenSinks_Disabled(t *testing.T) {
	cfg := config.Config{}
	d, err := openSinks(context.Background(), cfg, logging.NewWithWriter("test", io.Discard))
	if err != nil {
		t.Fatalf("openSinks() error = %v", err)
	}
	defer d.close()

	if d.sink != nil {
		t.Errorf("sink = %T, want nil with nothing enabled", d.sink)
	}
	if d.pinger != nil {
		t.Error("pinger set without a database")
	}
}
