package httpserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-job-verifier/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/usecase"
)

func readyz(t *testing.T, db, redis, render func(context.Context) error) *httptest.ResponseRecorder {
	t.Helper()
	s := httpserver.NewServer(config.Config{Port: 8080},
		usecase.VerifyService{}, usecase.EligibilityService{},
		db, redis, render)
	w := httptest.NewRecorder()
	s.ReadyzHandler()(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func TestReadyzHandler_AllOK(t *testing.T) {
	ok := func(context.Context) error { return nil }

	w := readyz(t, ok, ok, ok)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzHandler_OneFailing(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return http.ErrHandlerTimeout }

	w := readyz(t, ok, ok, down)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyzHandler_NilChecksSkipped(t *testing.T) {
	w := readyz(t, nil, nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
}
