package canonical

import "testing"

func TestDelta_Terminal(t *testing.T) {
	tests := []struct {
		d        Delta
		terminal bool
		content  string
	}{
		{TextDelta("hi"), false, "hi"},
		{AttachmentDelta("![a](/files/a.png)"), false, "![a](/files/a.png)"},
		{Done(""), true, ""},
		{Failure(ErrUpstream, 400, "bad"), true, ""},
	}

	for _, tt := range tests {
		if tt.d.IsTerminal() != tt.terminal {
			t.Errorf("%s: IsTerminal = %v", tt.d.Kind, !tt.terminal)
		}
		if tt.d.Content() != tt.content {
			t.Errorf("%s: Content = %q, want %q", tt.d.Kind, tt.d.Content(), tt.content)
		}
	}

	if Done("").FinishReason != "stop" {
		t.Error("Done should default to stop")
	}
}

func TestRequest_Helpers(t *testing.T) {
	req := &Request{
		Model: "gpt-4o",
		Messages: []Message{
			NewMessage(RoleSystem, Text("be brief")),
			NewMessage(RoleUser, Text("first")),
			NewMessage(RoleAssistant, Text("ok")),
			NewMessage(RoleUser, Text("look"), ImageBytes([]byte{1, 2}, "image/png"), Text("at this")),
		},
	}

	if got := req.SystemPrompt(); got != "be brief" {
		t.Errorf("SystemPrompt = %q", got)
	}
	if got := req.LastUserText(); got != "look\nat this" {
		t.Errorf("LastUserText = %q", got)
	}
	if !req.Messages[3].HasAttachments() {
		t.Error("expected attachments on last message")
	}
	if req.Messages[1].HasAttachments() {
		t.Error("text-only message reported attachments")
	}
	if !req.Messages[3].Parts[1].Inline() {
		t.Error("inline image should report Inline")
	}
}
