package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/api"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/cron"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/scheduler"
)

type testEnv struct {
	server  *httptest.Server
	sched   *scheduler.Scheduler
	failing *atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var failing atomic.Bool
	reg := job.NewRegistry()
	reg.Register("noop", func(ctx context.Context, payload []byte) error {
		return nil
	}, job.Options{})
	reg.Register("toggle", func(ctx context.Context, payload []byte) error {
		if failing.Load() {
			return errors.New("induced failure")
		}
		return nil
	}, job.Options{MaxRetries: 0})

	cfg := conveyor.DefaultConfig()
	cfg.Concurrency = 2
	sched := scheduler.New(cfg, reg,
		scheduler.WithLogger(logger),
		scheduler.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	crons := cron.NewScheduler(
		func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (conveyor.ID, error) {
			return sched.Enqueue(ctx, jobType, payload, opts...)
		},
		nil,
		cron.WithLogger(logger),
	)

	a := api.New(sched, api.WithCron(crons), api.WithLogger(logger))
	server := httptest.NewServer(a.Handler())

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	return &testEnv{server: server, sched: sched, failing: &failing}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s) error = %v", method, path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	return resp, data
}

func (e *testEnv) waitDLQ(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := e.sched.DeadLetters(context.Background())
		if err == nil && len(entries) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dead letters", want)
}

func TestEnqueueAndStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/v1/jobs",
		`{"type":"noop","payload":{"k":"v"},"priority":5}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /v1/jobs status = %d, want 202 (body %s)", resp.StatusCode, data)
	}
	var enq api.EnqueueResponse
	if err := json.Unmarshal(data, &enq); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if enq.ID.IsNil() {
		t.Fatal("enqueue response has nil id")
	}

	// The job completes quickly; a live lookup then reports not found.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, _ := env.do(t, http.MethodGet, "/v1/jobs/"+enq.ID.String(), "")
		if resp.StatusCode == http.StatusNotFound {
			return
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /v1/jobs/{id} status = %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
}

func TestEnqueueValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing type", `{"payload":{}}`},
		{"malformed json", `{"type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodPost, "/v1/jobs", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestJobLookupErrors(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/v1/jobs/not-an-id", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET invalid id status = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/jobs/not-an-id/cancel", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("cancel invalid id status = %d, want 400", resp.StatusCode)
	}
}

func TestDeadLetterFlow(t *testing.T) {
	env := newTestEnv(t)
	env.failing.Store(true)

	for i := 0; i < 2; i++ {
		resp, data := env.do(t, http.MethodPost, "/v1/jobs", `{"type":"toggle"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("enqueue status = %d (body %s)", resp.StatusCode, data)
		}
	}
	env.waitDLQ(t, 2)

	resp, data := env.do(t, http.MethodGet, "/v1/dlq", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/dlq status = %d", resp.StatusCode)
	}
	var list api.DeadLettersResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode dlq list: %v", err)
	}
	if list.Total != 2 {
		t.Fatalf("dlq total = %d, want 2", list.Total)
	}

	// Retry one entry individually.
	env.failing.Store(false)
	jobID := list.Entries[0].Job.ID
	resp, data = env.do(t, http.MethodPost, fmt.Sprintf("/v1/dlq/%s/retry", jobID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry one status = %d (body %s)", resp.StatusCode, data)
	}

	// Retry the rest in bulk.
	resp, data = env.do(t, http.MethodPost, "/v1/dlq/retry", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry all status = %d", resp.StatusCode)
	}
	var retried api.RetryResponse
	if err := json.Unmarshal(data, &retried); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	if retried.Retried != 1 {
		t.Errorf("bulk retried = %d, want 1", retried.Retried)
	}

	env.waitDLQ(t, 0)

	resp, data = env.do(t, http.MethodDelete, "/v1/dlq", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE /v1/dlq status = %d", resp.StatusCode)
	}
	var cleared api.ClearResponse
	if err := json.Unmarshal(data, &cleared); err != nil {
		t.Fatalf("decode clear response: %v", err)
	}
	if cleared.Cleared != 0 {
		t.Errorf("cleared = %d, want 0 after retries", cleared.Cleared)
	}
}

func TestRetryUnknownDeadLetter(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/dlq/job_00000000000000000000000000/retry", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("retry unknown status = %d, want 409", resp.StatusCode)
	}
}

func TestStatsAndHistory(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/v1/jobs", `{"type":"noop"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue status = %d", resp.StatusCode)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := env.sched.Metrics(context.Background())
		if err == nil && snap.Completed == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, data = env.do(t, http.MethodGet, "/v1/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/metrics status = %d", resp.StatusCode)
	}
	var stats map[string]any
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got := stats["jobs_completed"]; got != float64(1) {
		t.Errorf("jobs_completed = %v, want 1", got)
	}

	resp, data = env.do(t, http.MethodGet, "/v1/history?page=1&page_size=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/history status = %d", resp.StatusCode)
	}
	var page map[string]any
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
}

func TestCronRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.do(t, http.MethodPost, "/v1/crons",
		`{"name":"nightly","schedule":"0 3 * * *","job_type":"noop"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/crons status = %d (body %s)", resp.StatusCode, data)
	}
	var created api.RegisterCronResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode cron response: %v", err)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/crons",
		`{"name":"bad","schedule":"nope","job_type":"noop"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid schedule status = %d, want 400", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodGet, "/v1/crons", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/crons status = %d", resp.StatusCode)
	}
	var list api.ListCronsResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode cron list: %v", err)
	}
	if list.Total != 1 {
		t.Errorf("cron total = %d, want 1", list.Total)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/crons/"+created.ID.String()+"/disable", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("disable status = %d, want 204", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/v1/crons/"+created.ID.String(), "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/crons/"+created.ID.String(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, data := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}
	if string(data) != "OK" {
		t.Errorf("health body = %q, want OK", data)
	}
}
