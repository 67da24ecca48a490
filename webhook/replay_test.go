package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/internal/httpclient"
	cadencetest "github.com/teranos/cadence/internal/testing"
	"github.com/teranos/cadence/pulse/async"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// receiver records payloads per path and fails paths listed in failing
type receiver struct {
	mu      sync.Mutex
	hits    map[string][]string
	failing map[string]bool
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[req.URL.Path] = append(r.hits[req.URL.Path], string(body))
	if r.failing[req.URL.Path] {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *receiver) fail(path string, failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[path] = failing
}

func (r *receiver) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hits[path])
}

func setup(t *testing.T) (*Store, *ReplayHandler, *receiver, string) {
	t.Helper()
	store := NewStore(cadencetest.CreateTestDB(t))
	rcv := &receiver{hits: map[string][]string{}, failing: map[string]bool{}}
	srv := httptest.NewServer(rcv)
	t.Cleanup(srv.Close)

	client := httpclient.New(httpclient.Options{AllowPrivate: true})
	return store, NewReplayHandler(store, client, zaptest.NewLogger(t).Sugar()), rcv, srv.URL
}

func record(t *testing.T, s *Store, source, target, payload string, at time.Time) *Event {
	t.Helper()
	e := &Event{Source: source, TargetURL: target, Payload: json.RawMessage(payload), ReceivedAt: at}
	require.NoError(t, s.Record(context.Background(), e))
	return e
}

func replayJob(t *testing.T, params async.WebhookReplayParams) *async.Job {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	claimed := t0
	return &async.Job{ID: "job-1", Type: async.JobTypeWebhookReplay, Parameters: raw, StartedAt: &claimed}
}

func TestReplaySkipsAlreadyReplayedEvents(t *testing.T) {
	store, h, rcv, base := setup(t)
	ctx := context.Background()

	ok := record(t, store, "billing", base+"/ok", `{"invoice":1}`, t0.Add(-2*time.Hour))
	flaky := record(t, store, "billing", base+"/flaky", `{"invoice":2}`, t0.Add(-time.Hour))
	rcv.fail("/flaky", true)

	out, err := h.Execute(ctx, replayJob(t, async.WebhookReplayParams{}))
	require.Error(t, err, "one failed event fails the job")
	assert.Equal(t, ReplayResult{Replayed: 1, Failed: 1}, out)

	got, err := store.Get(ctx, flaky.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "unexpected status")

	got, err = store.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplayed, got.Status)
	require.NotNil(t, got.ReplayedAt)
	assert.Equal(t, t0, *got.ReplayedAt)

	// The retry only resends what failed
	rcv.fail("/flaky", false)
	out, err = h.Execute(ctx, replayJob(t, async.WebhookReplayParams{}))
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Replayed: 1}, out)

	assert.Equal(t, 1, rcv.count("/ok"))
	assert.Equal(t, 2, rcv.count("/flaky"))
	assert.Equal(t, `{"invoice":2}`, rcv.hits["/flaky"][1])

	got, err = store.Get(ctx, flaky.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplayed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)
}

func TestReplaySelection(t *testing.T) {
	store, h, rcv, base := setup(t)
	ctx := context.Background()

	a := record(t, store, "billing", base+"/a", `{}`, t0.Add(-3*time.Hour))
	record(t, store, "crm", base+"/b", `{}`, t0.Add(-2*time.Hour))
	record(t, store, "billing", base+"/c", `{}`, t0.Add(-time.Hour))

	out, err := h.Execute(ctx, replayJob(t, async.WebhookReplayParams{Source: "crm"}))
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Replayed: 1}, out)
	assert.Equal(t, 1, rcv.count("/b"))

	out, err = h.Execute(ctx, replayJob(t, async.WebhookReplayParams{EventIDs: []string{a.ID}}))
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Replayed: 1}, out)
	assert.Equal(t, 0, rcv.count("/c"))

	out, err = h.Execute(ctx, replayJob(t, async.WebhookReplayParams{Limit: 5}))
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Replayed: 1}, out, "only /c was left")

	out, err = h.Execute(ctx, replayJob(t, async.WebhookReplayParams{}))
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{}, out)
}

func TestReplayBlockedTargetIsFailure(t *testing.T) {
	store := NewStore(cadencetest.CreateTestDB(t))
	h := NewReplayHandler(store, httpclient.New(httpclient.Options{}), zaptest.NewLogger(t).Sugar())
	e := record(t, store, "billing", "http://127.0.0.1:1/hook", `{}`, t0)

	_, err := h.Execute(context.Background(), replayJob(t, async.WebhookReplayParams{}))
	require.Error(t, err)

	got, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "blocked")
}
