package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
)

type okPing struct{}

func (okPing) Err() error { return nil }

type errPing struct{ err error }

func (e errPing) Err() error { return e.err }

type fakeRedis struct {
	ok  bool
	err error
}

func (f fakeRedis) Ping(context.Context) RedisPingResult {
	if f.ok {
		return okPing{}
	}
	return errPing{err: f.err}
}

type fakePool struct{ err error }

func (f fakePool) Ping(context.Context) error { return f.err }

func TestBuildReadinessChecks_DB(t *testing.T) {
	db, _, _ := BuildReadinessChecks(config.Config{}, fakePool{}, nil)
	if err := db(context.Background()); err != nil {
		t.Fatalf("db check: %v", err)
	}

	dbNil, _, _ := BuildReadinessChecks(config.Config{}, nil, nil)
	if err := dbNil(context.Background()); err == nil {
		t.Fatalf("expected db not configured error")
	}
}

func TestBuildReadinessChecks_Redis(t *testing.T) {
	_, red, _ := BuildReadinessChecks(config.Config{}, nil, fakeRedis{ok: true})
	if err := red(context.Background()); err != nil {
		t.Fatalf("redis check: %v", err)
	}

	_, redErr, _ := BuildReadinessChecks(config.Config{}, nil, fakeRedis{err: context.DeadlineExceeded})
	if err := redErr(context.Background()); err == nil {
		t.Fatalf("expected redis error")
	}

	_, redNil, _ := BuildReadinessChecks(config.Config{}, nil, nil)
	if redNil != nil {
		t.Fatalf("redis check should be nil when the client is absent")
	}
}

func TestBuildReadinessChecks_Render(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, _, render := BuildReadinessChecks(config.Config{RenderURL: ts.URL}, nil, nil)
	if err := render(context.Background()); err != nil {
		t.Fatalf("render check: %v", err)
	}

	_, _, renderMissing := BuildReadinessChecks(config.Config{}, nil, nil)
	if err := renderMissing(context.Background()); err == nil {
		t.Fatalf("expected render url not configured error")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	_, _, renderDown := BuildReadinessChecks(config.Config{RenderURL: down.URL}, nil, nil)
	if err := renderDown(context.Background()); err == nil {
		t.Fatalf("expected render status error")
	}
}
