package deepseek

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
)

func biz(data any) map[string]any {
	return map[string]any{
		"code": 0,
		"msg":  "",
		"data": map[string]any{"biz_code": 0, "biz_msg": "", "biz_data": data},
	}
}

type kernelCall struct {
	challenge, prefix string
	difficulty        float64
}

func newAdapter(t *testing.T, mock *testhelpers.MockServer, calls *[]kernelCall) *Adapter {
	t.Helper()
	kernel := pow.KernelFunc(func(_ context.Context, challenge, prefix string, difficulty float64) (int64, bool, error) {
		*calls = append(*calls, kernelCall{challenge, prefix, difficulty})
		return 38385, true, nil
	})
	a, err := New(Config{
		Provider:      testhelpers.TestConfig(Name, mock.URL()),
		TokenSecret:   "ds_token",
		CookiesSecret: "ds_cookies",
		AppVersion:    "20241129.1",
	}, Deps{
		Secrets: testhelpers.Secrets{
			"ds_token":   "bearer-1",
			"ds_cookies": `{"cf_clearance":"cf-1"}`,
		},
		Solver: pow.NewKernelSolver(kernel),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func mockBackend(mock *testhelpers.MockServer) {
	mock.SetResponse("POST /api/v0/chat_session/create", testhelpers.MockResponse{
		Body: biz(map[string]any{"id": "session-1"}),
	})
	mock.SetResponse("POST /api/v0/chat/create_pow_challenge", testhelpers.MockResponse{
		Body: biz(map[string]any{"challenge": map[string]any{
			"algorithm":   "DeepSeekHashV1",
			"challenge":   "2ee17d42",
			"salt":        "e071bdd6",
			"signature":   "sig",
			"difficulty":  144000,
			"expire_at":   1736928349211,
			"target_path": "/api/v0/chat/completion",
		}}),
	})
	mock.SetResponse("POST /api/v0/chat_session/delete", testhelpers.MockResponse{Body: biz(nil)})
	mock.SetResponse("POST /api/v0/chat/completion", testhelpers.MockResponse{
		Stream: testhelpers.SSE(
			`{"choices":[{"index":0,"delta":{"content":"Let me think","type":"thinking"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"Hello","type":"text"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" world","type":"text"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"","type":"text"},"finish_reason":"stop"}]}`,
		),
	})
}

func TestAdapter_Completion(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockBackend(mock)

	var calls []kernelCall
	a := newAdapter(t, mock, &calls)

	raw, err := a.Prepare(context.Background(), testhelpers.TextRequest("deepseek-reasoner", "hi"))
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	rs, err := a.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if mock.Count("POST /api/v0/chat_session/delete") != 0 {
		t.Fatal("session deleted before the stream closed")
	}

	text, terminal := testhelpers.Drain(t, Name, rs, nil)
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if terminal.Kind != canonical.DeltaDone {
		t.Errorf("terminal = %+v", terminal)
	}
	if n := mock.Count("POST /api/v0/chat_session/delete"); n != 1 {
		t.Errorf("session deletions = %d, want 1", n)
	}

	if len(calls) != 1 || calls[0].prefix != "e071bdd6_1736928349211_" || calls[0].difficulty != 144000 {
		t.Errorf("kernel calls = %+v", calls)
	}

	completion, _ := mock.LastRequest("POST /api/v0/chat/completion")
	if got := completion.Header.Get("Authorization"); got != "Bearer bearer-1" {
		t.Errorf("Authorization = %q", got)
	}
	if got := completion.Header.Get("Cookie"); got != "cf_clearance=cf-1" {
		t.Errorf("Cookie = %q", got)
	}
	if got := completion.Header.Get("X-App-Version"); got != "20241129.1" {
		t.Errorf("X-App-Version = %q", got)
	}

	decoded, err := base64.StdEncoding.DecodeString(completion.Header.Get("X-Ds-Pow-Response"))
	if err != nil {
		t.Fatalf("pow header is not base64: %v", err)
	}
	var answer powResponse
	if err := json.Unmarshal(decoded, &answer); err != nil {
		t.Fatal(err)
	}
	want := powResponse{
		Algorithm:  "DeepSeekHashV1",
		Challenge:  "2ee17d42",
		Salt:       "e071bdd6",
		Answer:     38385,
		Signature:  "sig",
		TargetPath: "/api/v0/chat/completion",
	}
	if answer != want {
		t.Errorf("pow answer = %+v, want %+v", answer, want)
	}

	var body completionRequest
	if err := json.Unmarshal(completion.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.ChatSessionID != "session-1" || body.Prompt != "hi" || !body.ThinkingEnabled {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestAdapter_JSONErrorOn200(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockBackend(mock)
	mock.SetResponse("POST /api/v0/chat/completion", testhelpers.MockResponse{
		Body: map[string]any{"code": 40003, "msg": "INVALID_TOKEN", "data": nil},
	})

	var calls []kernelCall
	a := newAdapter(t, mock, &calls)

	raw, err := a.Prepare(context.Background(), testhelpers.TextRequest("deepseek-chat", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Execute(context.Background(), raw)
	if !providers.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	raw.Release()
	if n := mock.Count("POST /api/v0/chat_session/delete"); n != 1 {
		t.Errorf("session deletions after release = %d, want 1", n)
	}
}

func TestAdapter_UpstreamJSONError(t *testing.T) {
	err := inBodyError(strings.NewReader(`{"code":0,"msg":"","data":{"biz_code":3,"biz_msg":"rate limited","biz_data":null}}`))
	var upstream *providers.UpstreamError
	if !errors.As(err, &upstream) || !strings.Contains(upstream.Detail, "rate limited") {
		t.Errorf("err = %v", err)
	}

	err = inBodyError(strings.NewReader(`not json`))
	if !errors.As(err, &upstream) || upstream.Detail != "not json" {
		t.Errorf("err = %v", err)
	}
}

func TestAdapter_RejectsAttachments(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()

	var calls []kernelCall
	a := newAdapter(t, mock, &calls)

	_, err := a.Prepare(context.Background(), &canonical.Request{
		Model: "deepseek-chat",
		Messages: []canonical.Message{canonical.NewMessage(canonical.RoleUser,
			canonical.Text("look"), canonical.ImageBytes([]byte{1}, "image/png"))},
	})
	var ae *providers.AttachmentError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AttachmentError, got %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.GetRequestCount())
	}
}

func TestAdapter_FetchesAppVersion(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockBackend(mock)
	mock.SetResponse("GET /version.txt", testhelpers.MockResponse{Body: "20250101.2\n"})

	a, err := New(Config{
		Provider:    testhelpers.TestConfig(Name, mock.URL()),
		TokenSecret: "ds_token",
	}, Deps{
		Secrets: testhelpers.Secrets{"ds_token": "bearer-1"},
		Solver: pow.NewKernelSolver(pow.KernelFunc(func(context.Context, string, string, float64) (int64, bool, error) {
			return 0, false, nil
		})),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	raw, err := a.Prepare(context.Background(), testhelpers.TextRequest("deepseek-chat", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Release()

	if got := raw.Header.Get("X-App-Version"); got != "20250101.2" {
		t.Errorf("X-App-Version = %q", got)
	}

	// An unsolved challenge still produces a header with the fallback answer.
	decoded, _ := base64.StdEncoding.DecodeString(raw.Header.Get("X-Ds-Pow-Response"))
	var answer powResponse
	if err := json.Unmarshal(decoded, &answer); err != nil || answer.Answer != 0 {
		t.Errorf("fallback answer = %+v (%v)", answer, err)
	}
}

func TestAdapter_SessionCreateRejected(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mock.SetResponse("POST /api/v0/chat_session/create", testhelpers.MockResponse{
		Body: map[string]any{"code": 40003, "msg": "INVALID_TOKEN"},
	})

	var calls []kernelCall
	a := newAdapter(t, mock, &calls)
	_, err := a.Prepare(context.Background(), testhelpers.TextRequest("deepseek-chat", "hi"))

	if !providers.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if providers.AuthGeneration(err) != 1 {
		t.Errorf("auth generation = %d, want 1", providers.AuthGeneration(err))
	}
	if len(calls) != 0 {
		t.Error("challenge solved although session creation failed")
	}
}

func decodeAll(t *testing.T, lines ...string) string {
	t.Helper()
	raw := &providers.RawStream{
		Body:    io.NopCloser(strings.NewReader(strings.Join(testhelpers.SSE(lines...), ""))),
		Framing: stream.FramingSSE,
		Decoder: NewDecoder(),
	}
	text, _ := testhelpers.Drain(t, Name, raw, nil)
	return text
}

func TestDecoder_PathValue(t *testing.T) {
	text := decodeAll(t,
		`{"v":{"response":{"message_id":2,"role":"ASSISTANT","content":"","thinking_content":null}}}`,
		`{"p":"response/thinking_content","v":"hmm"}`,
		`{"v":" still thinking"}`,
		`{"p":"response/content","v":"Hel"}`,
		`{"v":"lo"}`,
		`{"p":"response/status","o":"SET","v":"FINISHED"}`,
		`{"p":"response/content","v":"ignored after end"}`,
	)
	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
}

func TestDecoder_Fragments(t *testing.T) {
	text := decodeAll(t,
		`{"v":{"response":{"fragments":[{"type":"THINK","content":"plan"}]}}}`,
		`{"p":"response/fragments/-1/content","o":"APPEND","v":" more plan"}`,
		`{"p":"response/fragments","o":"APPEND","v":[{"type":"RESPONSE","content":"An"}]}`,
		`{"p":"response/fragments/-1/content","o":"APPEND","v":"swer"}`,
		`{"v":"!"}`,
		`{"p":"response/status","v":"FINISHED"}`,
	)
	if text != "Answer!" {
		t.Errorf("text = %q, want %q", text, "Answer!")
	}
}

func TestDecoder_ErrorsAndAnomalies(t *testing.T) {
	d := NewDecoder()

	events, err := d.Decode(stream.Line{Data: []byte(`{"type":"error","content":"rate limit reached"}`)})
	if err != nil || len(events) != 1 || events[0].Kind != stream.EventError {
		t.Errorf("error event = %+v, %v", events, err)
	}

	if _, err := d.Decode(stream.Line{Data: []byte(`<html>`)}); err == nil {
		t.Error("expected anomaly for non-JSON line")
	}

	events, err = d.Decode(stream.Line{Event: "close", Data: []byte(`{}`)})
	if err != nil || len(events) != 1 || events[0].Kind != stream.EventEnd {
		t.Errorf("close event = %+v, %v", events, err)
	}
}
