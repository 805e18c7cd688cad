package redis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	persistredis "github.com/conveyorhq/conveyor/persist/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRedis implements the slice of goredis.Cmdable the adapter uses,
// backed by in-process maps. The embedded interface panics on anything
// unimplemented, which doubles as a check that the adapter's command
// surface stays small.
type fakeRedis struct {
	goredis.Cmdable

	mu      sync.Mutex
	data    map[string][]byte
	members map[string]struct{}
	failing bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		data:    make(map[string][]byte),
		members: make(map[string]struct{}),
	}
}

func (f *fakeRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	if f.failing {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeRedis) TxPipeline() goredis.Pipeliner {
	return &fakePipeline{r: f}
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *goredis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewStringSliceCmd(ctx)
	if f.failing {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	out := make([]string, 0, len(f.members))
	for m := range f.members {
		out = append(out, m)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewStringCmd(ctx)
	data, ok := f.data[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(string(data))
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.members, m.(string))
	}
	return goredis.NewIntCmd(ctx)
}

// fakePipeline buffers writes and applies them atomically on Exec,
// mirroring TxPipeline semantics.
type fakePipeline struct {
	goredis.Pipeliner

	r   *fakeRedis
	ops []func()
}

func (p *fakePipeline) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	data := append([]byte(nil), value.([]byte)...)
	p.ops = append(p.ops, func() { p.r.data[key] = data })
	return goredis.NewStatusCmd(ctx)
}

func (p *fakePipeline) SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, m := range members {
			p.r.members[m.(string)] = struct{}{}
		}
	})
	return goredis.NewIntCmd(ctx)
}

func (p *fakePipeline) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, k := range keys {
			delete(p.r.data, k)
		}
	})
	return goredis.NewIntCmd(ctx)
}

func (p *fakePipeline) SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd {
	p.ops = append(p.ops, func() {
		for _, m := range members {
			delete(p.r.members, m.(string))
		}
	})
	return goredis.NewIntCmd(ctx)
}

func (p *fakePipeline) Exec(ctx context.Context) ([]goredis.Cmder, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	if p.r.failing {
		return nil, errors.New("connection refused")
	}
	for _, op := range p.ops {
		op()
	}
	return nil, nil
}

// ──────────────────────────────────────────────────

func testJob(payload string) *job.QueuedJob {
	return &job.QueuedJob{
		ID:         id.NewJobID(),
		Type:       "email.send",
		Payload:    []byte(payload),
		Priority:   10,
		MaxRetries: 2,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestAdapterRoundTrip(t *testing.T) {
	fake := newFakeRedis()
	a := persistredis.New(fake)
	ctx := context.Background()

	want := map[id.JobID]*job.QueuedJob{}
	for _, p := range []string{"a", "b"} {
		j := testJob(p)
		if err := a.Persist(ctx, j); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
		want[j.ID] = j
	}

	jobs, err := a.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Recover() returned %d jobs, want 2", len(jobs))
	}
	for _, got := range jobs {
		w, ok := want[got.ID]
		if !ok {
			t.Fatalf("Recover() returned unknown job %s", got.ID)
		}
		if got.Type != w.Type || string(got.Payload) != string(w.Payload) ||
			got.Priority != w.Priority || got.Attempt != w.Attempt {
			t.Errorf("recovered job = %+v, want %+v", got, w)
		}
	}
}

func TestAdapterRemove(t *testing.T) {
	fake := newFakeRedis()
	a := persistredis.New(fake)
	ctx := context.Background()

	j := testJob("x")
	if err := a.Persist(ctx, j); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := a.Remove(ctx, j.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	jobs, err := a.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Recover() after Remove returned %d jobs, want 0", len(jobs))
	}
}

func TestAdapterConnectionErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.failing = true
	a := persistredis.New(fake)
	ctx := context.Background()

	if err := a.Persist(ctx, testJob("x")); err == nil {
		t.Error("Persist() with dead connection error = nil, want error")
	}
	if err := a.Remove(ctx, id.NewJobID()); err == nil {
		t.Error("Remove() with dead connection error = nil, want error")
	}
	if _, err := a.Recover(ctx); err == nil {
		t.Error("Recover() with dead connection error = nil, want error")
	}
	if err := a.Ping(ctx); err == nil {
		t.Error("Ping() with dead connection error = nil, want error")
	}
}

func TestAdapterRecoverSkipsUndecodable(t *testing.T) {
	fake := newFakeRedis()
	a := persistredis.New(fake, persistredis.WithLogger(discardLogger()))
	ctx := context.Background()

	good := testJob("ok")
	bad := testJob("corrupt")
	for _, j := range []*job.QueuedJob{good, bad} {
		if err := a.Persist(ctx, j); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	fake.mu.Lock()
	for key := range fake.data {
		if strings.Contains(key, bad.ID.String()) {
			fake.data[key] = []byte("{not json")
		}
	}
	fake.mu.Unlock()

	jobs, err := a.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != good.ID {
		t.Errorf("Recover() = %v, want only the decodable job", jobs)
	}
}

func TestAdapterRecoverCleansStaleIDs(t *testing.T) {
	fake := newFakeRedis()
	a := persistredis.New(fake)
	ctx := context.Background()

	stale := testJob("gone")
	kept := testJob("kept")
	for _, j := range []*job.QueuedJob{stale, kept} {
		if err := a.Persist(ctx, j); err != nil {
			t.Fatalf("Persist() error = %v", err)
		}
	}

	// Simulate the value expiring while the id stays in the set.
	fake.mu.Lock()
	for key := range fake.data {
		if strings.Contains(key, stale.ID.String()) {
			delete(fake.data, key)
		}
	}
	fake.mu.Unlock()

	jobs, err := a.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != kept.ID {
		t.Fatalf("Recover() = %v, want only the live job", jobs)
	}

	fake.mu.Lock()
	_, staleTracked := fake.members[stale.ID.String()]
	fake.mu.Unlock()
	if staleTracked {
		t.Error("stale id still tracked after Recover()")
	}
}
