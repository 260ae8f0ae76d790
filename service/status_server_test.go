package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-net/mcast-acceptor/store"
	"github.com/aura-net/mcast-acceptor/types"
)

type staticStatus Status

func (s staticStatus) CurrentStatus() Status {
	return Status(s)
}

type fakeHistory struct {
	runs  []store.Run
	err   error
	limit int
}

func (f *fakeHistory) RecentRuns(_ context.Context, limit int) ([]store.Run, error) {
	f.limit = limit
	return f.runs, f.err
}

func serve(t *testing.T, s *StatusServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", staticStatus{}, nil, testlog.Logger(t, log.LevelInfo))
	rec := serve(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatus(t *testing.T) {
	last := types.NewRunResult("r1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s := NewStatusServer("127.0.0.1:0", staticStatus{
		Version:    "v0.1.0",
		RunID:      "r2",
		Phase:      types.PhaseRunning,
		Running:    true,
		Runs:       1,
		LastStatus: types.RunStatusFail,
		LastRun:    last,
	}, nil, testlog.Logger(t, log.LevelInfo))

	rec := serve(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got struct {
		Version    string `json:"version"`
		RunID      string `json:"run_id"`
		Phase      string `json:"phase"`
		Running    bool   `json:"running"`
		LastStatus string `json:"last_status"`
		LastRun    struct {
			RunID string `json:"run_id"`
		} `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "v0.1.0", got.Version)
	assert.Equal(t, "r2", got.RunID)
	assert.Equal(t, "running", got.Phase)
	assert.True(t, got.Running)
	assert.Equal(t, "fail", got.LastStatus)
	assert.Equal(t, "r1", got.LastRun.RunID)
}

func TestRuns(t *testing.T) {
	logger := testlog.Logger(t, log.LevelInfo)

	t.Run("no history", func(t *testing.T) {
		s := NewStatusServer("127.0.0.1:0", staticStatus{}, nil, logger)
		assert.Equal(t, http.StatusNotFound, serve(t, s, "/runs").Code)
	})

	t.Run("default limit", func(t *testing.T) {
		h := &fakeHistory{runs: []store.Run{{ID: "a", Status: "pass"}}}
		s := NewStatusServer("127.0.0.1:0", staticStatus{}, h, logger)
		rec := serve(t, s, "/runs")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, defaultHistoryLimit, h.limit)

		var runs []store.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "a", runs[0].ID)
	})

	t.Run("empty history is an empty list", func(t *testing.T) {
		s := NewStatusServer("127.0.0.1:0", staticStatus{}, &fakeHistory{}, logger)
		rec := serve(t, s, "/runs")
		assert.Equal(t, "[]\n", rec.Body.String())
	})

	tests := []struct {
		name string
		path string
		err  error
		code int
	}{
		{name: "explicit limit", path: "/runs?limit=5", code: http.StatusOK},
		{name: "bad limit", path: "/runs?limit=abc", code: http.StatusBadRequest},
		{name: "zero limit", path: "/runs?limit=0", code: http.StatusBadRequest},
		{name: "store error", path: "/runs", err: errors.New("db down"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatusServer("127.0.0.1:0", staticStatus{}, &fakeHistory{err: tt.err}, logger)
			assert.Equal(t, tt.code, serve(t, s, tt.path).Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", staticStatus{}, nil, testlog.Logger(t, log.LevelInfo))
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewStatusServer("127.0.0.1:0", staticStatus{}, nil, testlog.Logger(t, log.LevelInfo))
	require.NoError(t, s.Shutdown(context.Background()))
	require.ErrorIs(t, s.ListenAndServe(), http.ErrServerClosed, "a server shut down first must never listen")
}

func TestService_StartShutdown(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
	}{
		{name: "shutdown right after start", delay: 0},
		{name: "shutdown while serving", delay: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New("127.0.0.1", 0, staticStatus{}, nil, testlog.Logger(t, log.LevelInfo))
			svc.Start(context.Background())
			time.Sleep(tt.delay)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			svc.Shutdown(ctx)

			require.ErrorIs(t, svc.Status.ListenAndServe(), http.ErrServerClosed)
		})
	}
}
