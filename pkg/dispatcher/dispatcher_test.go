package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
)

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	retries   []string
	anomalies []string
}

func (o *recordingObserver) RecordStreamAnomaly(backend string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.anomalies = append(o.anomalies, backend)
}

func (o *recordingObserver) RecordDispatch(backend, model, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, backend+"/"+model+"/"+outcome)
}

func (o *recordingObserver) RecordRetry(backend, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, backend+"/"+reason)
}

func newDispatcher(t *testing.T, adapters ...providers.Adapter) (*Dispatcher, *recordingObserver) {
	t.Helper()
	reg, err := NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	obs := &recordingObserver{}
	opts := DefaultOptions()
	opts.RetryInterval = time.Millisecond
	opts.Observer = obs
	opts.Sink = &testhelpers.MemorySink{}
	return New(reg, opts), obs
}

// drain pulls every delta and returns the text plus the terminal delta.
func drain(t *testing.T, s *Stream) (string, canonical.Delta) {
	t.Helper()
	var (
		text     string
		terminal canonical.Delta
		count    int
	)
	for {
		d, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if d.IsTerminal() {
			count++
			terminal = d
			continue
		}
		text += d.Content()
	}
	if count != 1 {
		t.Fatalf("expected exactly one terminal delta, got %d", count)
	}
	return text, terminal
}

func TestDispatch_Streams(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.Answer = []string{"Hel", "lo"}
	d, obs := newDispatcher(t, adapter)

	s := d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi"))
	defer s.Close()

	text, terminal := drain(t, s)
	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if terminal.Kind != canonical.DeltaDone || terminal.FinishReason != "stop" {
		t.Errorf("unexpected terminal delta: %+v", terminal)
	}
	if adapter.Executes() != 1 {
		t.Errorf("expected 1 upstream call, got %d", adapter.Executes())
	}
	if adapter.Released() != 1 {
		t.Errorf("expected cleanup to run when the stream ends, ran %d", adapter.Released())
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "mock/mock-1/ok" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestDispatch_IsLazy(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	d, _ := newDispatcher(t, adapter)

	s := d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi"))
	if adapter.Prepares() != 0 {
		t.Fatal("Dispatch() did work before the first Next()")
	}
	s.Close()

	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
	if adapter.Prepares() != 0 {
		t.Error("closed stream still opened the backend")
	}
}

func TestDispatch_UnknownModel(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	d, obs := newDispatcher(t, adapter)

	s := d.Dispatch(context.Background(), testhelpers.TextRequest("not-a-model", "hi"))
	text, terminal := drain(t, s)

	if text != "" {
		t.Errorf("unexpected text %q", text)
	}
	if terminal.Kind != canonical.DeltaError || terminal.ErrKind != canonical.ErrModelNotSupported {
		t.Errorf("unexpected terminal delta: %+v", terminal)
	}
	if terminal.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", terminal.Status)
	}
	if adapter.Prepares() != 0 || adapter.Executes() != 0 {
		t.Errorf("expected zero backend calls, got %d prepares and %d executes", adapter.Prepares(), adapter.Executes())
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "none/not-a-model/model_not_supported" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestDispatch_AuthRefreshBound(t *testing.T) {
	var refreshes int
	cred := credentials.New("mock", func(context.Context) (credentials.Secret, error) {
		refreshes++
		return credentials.Secret{Token: "t"}, nil
	}, credentials.WithInitial(credentials.Secret{Token: "t0"}))

	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.SetCredential(cred)
	adapter.ExecuteErr = func(int) error {
		return &providers.AuthError{Provider: "mock", StatusCode: http.StatusUnauthorized, Message: "expired"}
	}
	d, obs := newDispatcher(t, adapter)

	_, terminal := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))

	if terminal.ErrKind != canonical.ErrAuthExhausted {
		t.Fatalf("expected auth_exhausted, got %+v", terminal)
	}
	if terminal.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", terminal.Status)
	}
	if cred.Refreshes() != 3 || refreshes != 3 {
		t.Errorf("expected exactly 3 refreshes, got %d", cred.Refreshes())
	}
	if adapter.Executes() != 4 {
		t.Errorf("expected 4 upstream calls (no call after the budget), got %d", adapter.Executes())
	}
	if adapter.Released() != 4 {
		t.Errorf("expected every failed attempt to be released, got %d", adapter.Released())
	}
	if len(obs.retries) != 3 {
		t.Errorf("retries = %v", obs.retries)
	}
}

func TestDispatch_AuthRecovers(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.ExecuteErr = func(call int) error {
		if call == 1 {
			return &providers.AuthError{Provider: "mock", StatusCode: http.StatusForbidden}
		}
		return nil
	}
	d, _ := newDispatcher(t, adapter)

	text, terminal := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))

	if text != "mock response" || terminal.Kind != canonical.DeltaDone {
		t.Errorf("unexpected result %q %+v", text, terminal)
	}
	if got := adapter.Credential().Refreshes(); got != 1 {
		t.Errorf("expected one refresh, got %d", got)
	}
	if got := adapter.Credential().Generation(); got != 2 {
		t.Errorf("generation = %d, want 2", got)
	}
}

func TestDispatch_AuthErrorInPrepare(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.PrepareErr = func(call int) error {
		if call == 1 {
			return &providers.AuthError{Provider: "mock", StatusCode: http.StatusUnauthorized}
		}
		return nil
	}
	d, _ := newDispatcher(t, adapter)

	text, _ := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))
	if text != "mock response" {
		t.Errorf("text = %q", text)
	}
	if adapter.Prepares() != 2 || adapter.Executes() != 1 {
		t.Errorf("prepares=%d executes=%d", adapter.Prepares(), adapter.Executes())
	}
}

func TestDispatch_TransientRetriedOnce(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.ExecuteErr = func(int) error {
		return &providers.TransientError{Provider: "mock", StatusCode: http.StatusBadGateway, Message: "bad gateway"}
	}
	d, obs := newDispatcher(t, adapter)

	_, terminal := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))

	if terminal.ErrKind != canonical.ErrTransientUpstream {
		t.Fatalf("expected transient failure, got %+v", terminal)
	}
	if adapter.Executes() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", adapter.Executes())
	}
	if len(obs.retries) != 1 || obs.retries[0] != "mock/transient" {
		t.Errorf("retries = %v", obs.retries)
	}
}

func TestDispatch_TransientRecovers(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.ExecuteErr = func(call int) error {
		if call == 1 {
			return &providers.TransientError{Provider: "mock", StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	}
	d, _ := newDispatcher(t, adapter)

	text, terminal := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))
	if text != "mock response" || terminal.Kind != canonical.DeltaDone {
		t.Errorf("unexpected result %q %+v", text, terminal)
	}
}

func TestDispatch_UpstreamErrorIsTerminal(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.ExecuteErr = func(int) error {
		return &providers.UpstreamError{Provider: "mock", StatusCode: http.StatusBadRequest, Detail: `{"detail":"bad"}`}
	}
	d, _ := newDispatcher(t, adapter)

	_, terminal := drain(t, d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))

	if terminal.ErrKind != canonical.ErrUpstream || terminal.Status != http.StatusBadRequest {
		t.Errorf("unexpected terminal delta: %+v", terminal)
	}
	if adapter.Executes() != 1 {
		t.Errorf("expected no retry, got %d calls", adapter.Executes())
	}
}

func TestDispatch_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.ExecuteErr = func(int) error {
		cancel()
		return &providers.TransientError{Provider: "mock", StatusCode: http.StatusBadGateway}
	}

	reg, err := NewRegistry(adapter)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.RetryInterval = time.Hour
	d := New(reg, opts)

	_, terminal := drain(t, d.Dispatch(ctx, testhelpers.TextRequest("mock-1", "hi")))
	if terminal.Kind != canonical.DeltaError {
		t.Errorf("expected an error terminal, got %+v", terminal)
	}
	if adapter.Executes() != 1 {
		t.Errorf("expected 1 call, got %d", adapter.Executes())
	}
}

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestDispatch_CancellationStopsReading(t *testing.T) {
	body := &testhelpers.ReadCounter{R: &chunkReader{chunks: testhelpers.SSE("a", "b", "c", "d", "e", "f")}}

	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.Body = func() io.ReadCloser { return body }
	d, obs := newDispatcher(t, adapter)

	s := d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi"))
	for i := 0; i < 2; i++ {
		if _, err := s.Next(context.Background()); err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
	}
	readsAtStop := body.Reads()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !body.IsClosed() {
		t.Error("upstream body not closed")
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
	if extra := body.Reads() - readsAtStop; extra > 1 {
		t.Errorf("read %d more chunks after the consumer stopped", extra)
	}
	if adapter.Released() != 1 {
		t.Errorf("expected cleanup on close, ran %d", adapter.Released())
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "mock/mock-1/cancelled" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestDispatch_ContextCancelledMidStream(t *testing.T) {
	body := &testhelpers.ReadCounter{R: &chunkReader{chunks: testhelpers.SSE("a", "b", "c")}}
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	adapter.Body = func() io.ReadCloser { return body }
	d, obs := newDispatcher(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	s := d.Dispatch(ctx, testhelpers.TextRequest("mock-1", "hi"))
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !body.IsClosed() {
		t.Error("upstream body not closed after cancellation")
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "mock/mock-1/cancelled" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestCollect(t *testing.T) {
	adapter := testhelpers.NewMockAdapter("mock", "mock-1")
	d, _ := newDispatcher(t, adapter)

	c, err := Collect(context.Background(), d.Dispatch(context.Background(), testhelpers.TextRequest("mock-1", "hi")))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if c.Content != "mock response" || c.FinishReason != "stop" || c.Backend != "mock" {
		t.Errorf("unexpected completion: %+v", c)
	}
}

func TestCollect_Failure(t *testing.T) {
	d, _ := newDispatcher(t, testhelpers.NewMockAdapter("mock", "mock-1"))

	_, err := Collect(context.Background(), d.Dispatch(context.Background(), testhelpers.TextRequest("gpt-9", "hi")))

	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if failure.Kind != canonical.ErrModelNotSupported || failure.Status != http.StatusNotFound {
		t.Errorf("unexpected failure: %+v", failure)
	}
}

type plainObserver struct{}

func (plainObserver) RecordDispatch(string, string, string, time.Duration) {}
func (plainObserver) RecordRetry(string, string)                           {}

func TestDispatcher_AnomalyHook(t *testing.T) {
	d, obs := newDispatcher(t, testhelpers.NewMockAdapter("deepseek", "deepseek-chat"))

	hook := d.anomalyHook("deepseek")
	if hook == nil {
		t.Fatal("expected a hook for an observer counting anomalies")
	}
	hook(errors.New("bad line"))
	hook(errors.New("bad line"))
	if len(obs.anomalies) != 2 || obs.anomalies[0] != "deepseek" {
		t.Errorf("anomalies = %v", obs.anomalies)
	}

	reg, _ := NewRegistry()
	plain := New(reg, Options{Observer: plainObserver{}})
	if plain.anomalyHook("deepseek") != nil {
		t.Error("expected no hook for an observer without RecordStreamAnomaly")
	}
}
