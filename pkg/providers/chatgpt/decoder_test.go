package chatgpt

import (
	"io"
	"strings"
	"testing"

	testhelpers "mercator-hq/webrelay/internal/providers"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
)

func snapshot(id, role, text string) string {
	return `{"message":{"id":"` + id + `","author":{"role":"` + role + `"},"content":{"content_type":"text","parts":["` + text + `"]},"status":"in_progress"},"error":null}`
}

func drainLines(t *testing.T, lines []string) (string, canonical.Delta) {
	t.Helper()
	raw := &providers.RawStream{
		Body:    io.NopCloser(strings.NewReader(strings.Join(lines, ""))),
		Framing: stream.FramingSSE,
		Decoder: NewDecoder(),
	}
	return testhelpers.Drain(t, Name, raw, nil)
}

func TestDecoder_CumulativeSnapshots(t *testing.T) {
	text, terminal := drainLines(t, testhelpers.SSE(
		snapshot("u1", "user", "hi"),
		snapshot("m1", "assistant", ""),
		snapshot("m1", "assistant", "Hello"),
		snapshot("m1", "assistant", "Hello world"),
		snapshot("m1", "assistant", "Hello world"),
		"[DONE]",
	))

	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if terminal.Kind != canonical.DeltaDone {
		t.Errorf("terminal = %+v, want done", terminal)
	}
}

func TestDecoder_SeparateMessagesAreSeparateChannels(t *testing.T) {
	text, _ := drainLines(t, testhelpers.SSE(
		snapshot("m1", "assistant", "First."),
		snapshot("m2", "assistant", "Second."),
		"[DONE]",
	))

	if text != "First.Second." {
		t.Errorf("text = %q", text)
	}
}

func TestDecoder_DeltaEncoding(t *testing.T) {
	lines := []string{
		"event: delta_encoding\ndata: \"v1\"\n\n",
	}
	lines = append(lines, testhelpers.SSE(
		`{"p":"","o":"add","v":{"message":{"id":"u1","author":{"role":"user"},"content":{"content_type":"text","parts":["question"]}}},"c":0}`,
		`{"p":"","o":"add","v":{"message":{"id":"m1","author":{"role":"assistant"},"content":{"content_type":"text","parts":[""]}}},"c":1}`,
		`{"p":"/message/content/parts/0","o":"append","v":"Hel"}`,
		`{"v":"lo"}`,
		`{"p":"","o":"patch","v":[{"p":"/message/content/parts/0","o":"append","v":"!"},{"p":"/message/status","o":"replace","v":"finished_successfully"}]}`,
		`{"type":"message_stream_complete"}`,
		"[DONE]",
	)...)

	text, terminal := drainLines(t, lines)
	if text != "Hello!" {
		t.Errorf("text = %q, want %q", text, "Hello!")
	}
	if terminal.Kind != canonical.DeltaDone {
		t.Errorf("terminal = %+v", terminal)
	}
}

func TestDecoder_SnapshotAfterAppends(t *testing.T) {
	text, terminal := drainLines(t, testhelpers.SSE(
		`{"p":"","o":"add","v":{"message":{"id":"m1","author":{"role":"assistant"},"content":{"content_type":"text","parts":["Hel"]}}}}`,
		`{"p":"/message/content/parts/0","o":"append","v":"lo"}`,
		snapshot("m1", "assistant", "Hello"),
		snapshot("m1", "assistant", "Hello there"),
		"[DONE]",
	))

	if text != "Hello there" {
		t.Errorf("text = %q, want %q", text, "Hello there")
	}
	if terminal.Kind != canonical.DeltaDone {
		t.Errorf("terminal = %+v", terminal)
	}
}

func TestDecoder_UserAppendsIgnored(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Decode(stream.Line{Data: []byte(`{"p":"","o":"add","v":{"message":{"id":"u1","author":{"role":"user"},"content":{"content_type":"text","parts":[""]}}}}`)}); err != nil {
		t.Fatal(err)
	}
	events, err := d.Decode(stream.Line{Data: []byte(`{"p":"/message/content/parts/0","o":"append","v":"echo"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("user append produced %d events", len(events))
	}
}

func TestDecoder_Errors(t *testing.T) {
	d := NewDecoder()

	events, err := d.Decode(stream.Line{Data: []byte(`{"message":null,"error":"Something went wrong"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != stream.EventError || events[0].Message != "Something went wrong" {
		t.Errorf("events = %+v", events)
	}

	if _, err := d.Decode(stream.Line{Data: []byte(`not json`)}); err == nil {
		t.Error("expected error for non-JSON payload")
	}
	if _, err := d.Decode(stream.Line{Data: []byte(`{"p":"","o":"patch","v":"oops"}`)}); err == nil {
		t.Error("expected error for malformed patch")
	}
}

func TestDecoder_ImagePointer(t *testing.T) {
	d := NewDecoder()
	line := `{"message":{"id":"t1","author":{"role":"tool"},"content":{"content_type":"multimodal_text","parts":[{"content_type":"image_asset_pointer","asset_pointer":"file-service://file-abc","width":1024,"height":1024}]}}}`

	events, err := d.Decode(stream.Line{Data: []byte(line)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != stream.EventFile || events[0].File.ID != "file-abc" {
		t.Fatalf("events = %+v", events)
	}
}

func TestAssetID(t *testing.T) {
	tests := map[string]string{
		"file-service://file-1": "file-1",
		"sediment://file_2":     "file_2",
		"https://example.com":   "",
	}
	for in, want := range tests {
		if got := assetID(in); got != want {
			t.Errorf("assetID(%q) = %q, want %q", in, got, want)
		}
	}
}
