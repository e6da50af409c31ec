package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"strings"
	"testing"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
)

const easyDifficulty = "fffff"

func newAdapter(t *testing.T, mock *testhelpers.MockServer, sessionSecret string) *Adapter {
	t.Helper()
	a, err := New(Config{
		Provider:           testhelpers.TestConfig(Name, mock.URL()),
		SessionTokenSecret: sessionSecret,
		DeviceID:           "device-1",
	}, Deps{
		Secrets: testhelpers.Secrets{"chatgpt_session": "session-cookie"},
		Solver:  pow.NewSentinelSolver(1000, []int{3000}),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func mockSignedIn(mock *testhelpers.MockServer) {
	mock.SetResponse("GET /api/auth/session", testhelpers.MockResponse{
		Body: map[string]any{"accessToken": "access-1", "expires": "2099-01-01T00:00:00Z"},
	})
	mock.SetResponse("POST /backend-api/sentinel/chat-requirements", testhelpers.MockResponse{
		Body: map[string]any{
			"token":       "req-token",
			"proofofwork": map[string]any{"required": true, "seed": "0.42", "difficulty": easyDifficulty},
		},
	})
	mock.SetResponse("POST /backend-api/conversation", testhelpers.MockResponse{
		Stream: testhelpers.SSE(
			snapshot("m1", "assistant", "Hi"),
			snapshot("m1", "assistant", "Hi there"),
			"[DONE]",
		),
	})
}

func run(t *testing.T, a *Adapter, req *canonical.Request) (*providers.RawRequest, string) {
	t.Helper()
	ctx := context.Background()

	raw, err := a.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	rs, err := a.Execute(ctx, raw)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	text, terminal := testhelpers.Drain(t, Name, rs, &testhelpers.MemorySink{})
	if terminal.Kind != canonical.DeltaDone {
		t.Fatalf("terminal = %+v, want done", terminal)
	}
	return raw, text
}

func TestAdapter_SignedInConversation(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockSignedIn(mock)

	a := newAdapter(t, mock, "chatgpt_session")
	raw, text := run(t, a, testhelpers.TextRequest("gpt-3.5", "hello"))

	if text != "Hi there" {
		t.Errorf("text = %q, want %q", text, "Hi there")
	}
	if raw.Model != "text-davinci-002-render-sha" {
		t.Errorf("model = %q", raw.Model)
	}
	if raw.Generation != 1 {
		t.Errorf("generation = %d, want 1", raw.Generation)
	}

	session, _ := mock.LastRequest("GET /api/auth/session")
	if c := session.Header.Get("Cookie"); !strings.Contains(c, sessionCookie+"=session-cookie") || !strings.Contains(c, "oai-did=device-1") {
		t.Errorf("session cookie header = %q", c)
	}

	conv, ok := mock.LastRequest("POST /backend-api/conversation")
	if !ok {
		t.Fatal("conversation not called")
	}
	if got := conv.Header.Get("Authorization"); got != "Bearer access-1" {
		t.Errorf("Authorization = %q", got)
	}
	if got := conv.Header.Get("Openai-Sentinel-Chat-Requirements-Token"); got != "req-token" {
		t.Errorf("requirements token = %q", got)
	}
	proof := conv.Header.Get("Openai-Sentinel-Proof-Token")
	if !pow.VerifySentinel(pow.Challenge{Seed: "0.42", Difficulty: easyDifficulty}, proof) {
		t.Errorf("proof token %q does not satisfy the challenge", proof)
	}
	if got := conv.Header.Get("Oai-Device-Id"); got != "device-1" {
		t.Errorf("Oai-Device-Id = %q", got)
	}

	var body conversationRequest
	if err := json.Unmarshal(conv.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Action != "next" || !body.HistoryAndTrainingDisabled || len(body.Messages) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
	if body.Messages[0].Author.Role != "user" || body.Messages[0].Content.Parts[0] != "hello" {
		t.Errorf("unexpected message: %+v", body.Messages[0])
	}

	// Each request solves its own requirements proof.
	if n := mock.Count("POST /backend-api/sentinel/chat-requirements"); n != 2 {
		t.Errorf("chat-requirements calls = %d, want 2", n)
	}
	reqCall, _ := mock.LastRequest("POST /backend-api/sentinel/chat-requirements")
	var reqBody map[string]string
	if err := json.Unmarshal(reqCall.Body, &reqBody); err != nil {
		t.Fatalf("decode requirements body: %v", err)
	}
	if !pow.VerifySentinel(pow.Challenge{Seed: "0.42", Difficulty: easyDifficulty}, reqBody["p"]) {
		t.Errorf("requirements proof %q does not satisfy the challenge", reqBody["p"])
	}
	run(t, a, testhelpers.TextRequest("gpt-4o", "again"))
	if n := mock.Count("POST /backend-api/sentinel/chat-requirements"); n != 4 {
		t.Errorf("chat-requirements calls after second request = %d, want 4", n)
	}
	if n := mock.Count("GET /api/auth/session"); n != 1 {
		t.Errorf("session refreshes = %d, want 1", n)
	}
}

func TestAdapter_Anonymous(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()

	mock.SetResponse("POST /backend-anon/sentinel/chat-requirements", testhelpers.MockResponse{
		Body: map[string]any{"token": "anon-token", "proofofwork": map[string]any{"required": false}},
	})
	mock.SetResponse("POST /backend-anon/conversation", testhelpers.MockResponse{
		Stream: testhelpers.SSE(snapshot("m1", "assistant", "anon"), "[DONE]"),
	})

	a := newAdapter(t, mock, "")
	_, text := run(t, a, testhelpers.TextRequest("auto", "hi"))

	if text != "anon" {
		t.Errorf("text = %q", text)
	}
	if mock.Count("GET /api/auth/session") != 0 {
		t.Error("anonymous adapter should not call the session endpoint")
	}
	conv, _ := mock.LastRequest("POST /backend-anon/conversation")
	if conv.Header.Get("Authorization") != "" {
		t.Error("anonymous request carried an Authorization header")
	}
	if conv.Header.Get("Openai-Sentinel-Proof-Token") != "" {
		t.Error("proof token sent although not required")
	}

	_, err := a.Prepare(context.Background(), &canonical.Request{
		Model: "auto",
		Messages: []canonical.Message{canonical.NewMessage(canonical.RoleUser,
			canonical.ImageBytes([]byte("x"), "image/png"))},
	})
	var ae *providers.AttachmentError
	if !errors.As(err, &ae) {
		t.Errorf("anonymous attachment should fail with AttachmentError, got %v", err)
	}
}

func TestAdapter_UnknownModel(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()

	a := newAdapter(t, mock, "chatgpt_session")
	_, err := a.Prepare(context.Background(), testhelpers.TextRequest("claude-3", "hi"))

	var me *providers.ModelNotSupportedError
	if !errors.As(err, &me) {
		t.Fatalf("expected ModelNotSupportedError, got %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("unknown model made %d requests", mock.GetRequestCount())
	}
	if a.Supports("claude-3") || !a.Supports("gpt-4o") {
		t.Error("Supports() disagrees with the model map")
	}
}

func TestAdapter_SessionWithoutAccessToken(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mock.SetResponse("GET /api/auth/session", testhelpers.MockResponse{Body: map[string]any{}})

	a := newAdapter(t, mock, "chatgpt_session")
	_, err := a.Prepare(context.Background(), testhelpers.TextRequest("gpt-4o", "hi"))
	if !providers.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestAdapter_ForbiddenConversationLeavesOtherRequests(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockSignedIn(mock)
	mock.SetResponse("POST /backend-api/conversation", testhelpers.MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       map[string]any{"detail": "Unusual activity"},
	})

	a := newAdapter(t, mock, "chatgpt_session")
	ctx := context.Background()

	first, err := a.Prepare(ctx, testhelpers.TextRequest("gpt-4o", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Prepare(ctx, testhelpers.TextRequest("gpt-4o", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	proof := second.Header.Get("Openai-Sentinel-Proof-Token")
	token := second.Header.Get("Openai-Sentinel-Chat-Requirements-Token")

	if _, err := a.Execute(ctx, first); !providers.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	if got := second.Header.Get("Openai-Sentinel-Proof-Token"); got != proof {
		t.Errorf("proof changed by another request's rejection: %q -> %q", proof, got)
	}
	if got := second.Header.Get("Openai-Sentinel-Chat-Requirements-Token"); got != token {
		t.Errorf("requirements token changed: %q -> %q", token, got)
	}

	// A new request still does exactly one solve-and-repost.
	before := mock.Count("POST /backend-api/sentinel/chat-requirements")
	if _, err := a.Prepare(ctx, testhelpers.TextRequest("gpt-4o", "again")); err != nil {
		t.Fatal(err)
	}
	if n := mock.Count("POST /backend-api/sentinel/chat-requirements") - before; n != 2 {
		t.Errorf("chat-requirements calls = %d, want 2", n)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAdapter_ImageUploadIsCached(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockSignedIn(mock)

	mock.SetResponse("GET /backend-api/models", testhelpers.MockResponse{
		Body: map[string]any{"models": []any{
			map[string]any{"slug": "text-davinci-002-render-sha"},
			map[string]any{"slug": "gpt-4o", "product_features": map[string]any{"attachments": map[string]any{
				"accepted_mime_types": []string{"text/plain", "application/pdf"},
				"image_mime_types":    []string{"image/png", "image/jpeg"},
			}}},
		}},
	})
	mock.SetResponse("POST /backend-api/files", testhelpers.MockResponse{
		Body: map[string]any{"file_id": "file-1", "upload_url": mock.URL() + "/blob/file-1"},
	})
	mock.SetResponse("PUT /blob/file-1", testhelpers.MockResponse{StatusCode: http.StatusCreated, Body: ""})
	mock.SetResponse("POST /backend-api/files/file-1/uploaded", testhelpers.MockResponse{
		Body: map[string]any{"status": "success"},
	})
	mock.SetResponse("GET /backend-api/files/file-1", testhelpers.MockResponse{
		Body: map[string]any{"file_name": "x.png", "size": 10},
	})

	a := newAdapter(t, mock, "chatgpt_session")
	img := pngBytes(t, 3, 2)
	req := &canonical.Request{
		Model: "gpt-4o",
		Messages: []canonical.Message{canonical.NewMessage(canonical.RoleUser,
			canonical.Text("what is this?"),
			canonical.ImageBytes(img, "image/png"),
		)},
	}

	run(t, a, req)
	run(t, a, req)

	if n := mock.Count("POST /backend-api/files"); n != 1 {
		t.Errorf("upload slots requested = %d, want 1", n)
	}
	put, _ := mock.LastRequest("PUT /blob/file-1")
	if put.Header.Get("X-Ms-Blob-Type") != "BlockBlob" || put.Header.Get("Authorization") != "" {
		t.Errorf("unexpected blob headers: %v", put.Header)
	}
	if !bytes.Equal(put.Body, img) {
		t.Error("blob body differs from the image")
	}
	if n := mock.Count("GET /backend-api/files/file-1"); n != 1 {
		t.Errorf("liveness checks = %d, want 1", n)
	}

	conv, _ := mock.LastRequest("POST /backend-api/conversation")
	var body struct {
		Messages []struct {
			Content struct {
				ContentType string            `json:"content_type"`
				Parts       []json.RawMessage `json:"parts"`
			} `json:"content"`
			Metadata struct {
				Attachments []attachmentRef `json:"attachments"`
			} `json:"metadata"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(conv.Body, &body); err != nil {
		t.Fatal(err)
	}
	msg := body.Messages[0]
	if msg.Content.ContentType != "multimodal_text" || len(msg.Content.Parts) != 2 {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
	var ptr imagePointer
	if err := json.Unmarshal(msg.Content.Parts[1], &ptr); err != nil {
		t.Fatal(err)
	}
	if ptr.AssetPointer != "file-service://file-1" || ptr.Width != 3 || ptr.Height != 2 {
		t.Errorf("unexpected pointer: %+v", ptr)
	}
	if len(msg.Metadata.Attachments) != 1 || msg.Metadata.Attachments[0].MIMEType != "image/png" {
		t.Errorf("unexpected attachments: %+v", msg.Metadata.Attachments)
	}
}

func TestAdapter_UploadFailureIsAttachmentError(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockSignedIn(mock)
	mock.SetResponse("GET /backend-api/models", testhelpers.MockResponse{StatusCode: http.StatusInternalServerError})
	mock.SetResponse("POST /backend-api/files", testhelpers.MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       map[string]any{"detail": "file too large"},
	})

	a := newAdapter(t, mock, "chatgpt_session")
	_, err := a.Prepare(context.Background(), &canonical.Request{
		Model: "gpt-4o",
		Messages: []canonical.Message{canonical.NewMessage(canonical.RoleUser,
			canonical.File("notes.txt", []byte("some notes"), "text/plain"))},
	})

	var ae *providers.AttachmentError
	if !errors.As(err, &ae) || ae.Op != "request_slot" {
		t.Fatalf("expected request_slot AttachmentError, got %v", err)
	}
	if mock.Count("POST /backend-api/conversation") != 0 {
		t.Error("conversation must not be called after an attachment failure")
	}
}

func TestAdapter_GeneratedImageDownload(t *testing.T) {
	mock := testhelpers.NewMockServer()
	defer mock.Close()
	mockSignedIn(mock)

	toolMsg := `{"message":{"id":"t1","author":{"role":"tool"},"content":{"content_type":"multimodal_text","parts":[{"content_type":"image_asset_pointer","asset_pointer":"file-service://file-img"}]}}}`
	mock.SetResponse("POST /backend-api/conversation", testhelpers.MockResponse{
		Stream: testhelpers.SSE(
			snapshot("m1", "assistant", "Here you go:"),
			toolMsg,
			toolMsg,
			"[DONE]",
		),
	})
	mock.SetResponse("GET /backend-api/files/file-img/download", testhelpers.MockResponse{
		Body: map[string]any{"status": "success", "download_url": mock.URL() + "/dl/cat.png", "file_name": "cat.png"},
	})
	mock.SetResponse("GET /dl/cat.png", testhelpers.MockResponse{
		Body:    "PNGDATA",
		Headers: map[string]string{"Content-Type": "image/png"},
	})

	a := newAdapter(t, mock, "chatgpt_session")
	raw, err := a.Prepare(context.Background(), testhelpers.TextRequest("gpt-4o", "draw a cat"))
	if err != nil {
		t.Fatal(err)
	}
	rs, err := a.Execute(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}

	sink := &testhelpers.MemorySink{}
	text, terminal := testhelpers.Drain(t, Name, rs, sink)
	if terminal.Kind != canonical.DeltaDone {
		t.Fatalf("terminal = %+v", terminal)
	}
	if want := "Here you go:\n![cat.png](mem://cat.png)\n"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if string(sink.Saved["cat.png"]) != "PNGDATA" {
		t.Errorf("saved = %q", sink.Saved["cat.png"])
	}
	if n := mock.Count("GET /backend-api/files/file-img/download"); n != 1 {
		t.Errorf("downloads = %d, want 1", n)
	}
}
