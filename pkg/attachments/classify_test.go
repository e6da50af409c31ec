package attachments

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifier(t *testing.T) {
	png := testPNG(t, 10, 20)

	tests := []struct {
		name        string
		policy      Policy
		data        []byte
		mime        string
		wantUseCase string
		wantMIME    string
		wantErr     error
	}{
		{name: "image", data: png, mime: "image/png", wantUseCase: UseCaseMultimodal, wantMIME: "image/png"},
		{name: "sniffed image", data: png, mime: "", wantUseCase: UseCaseMultimodal, wantMIME: "image/png"},
		{name: "mime parameters stripped", data: []byte("hi"), mime: "text/plain; charset=utf-8", wantUseCase: UseCaseFiles, wantMIME: "text/plain"},
		{name: "broken image demoted", data: []byte("not an image"), mime: "image/png", wantUseCase: UseCaseFiles, wantMIME: "text/plain"},
		{name: "unknown type ace", policy: PolicyACEUpload, data: []byte{1, 2}, mime: "application/x-thing", wantUseCase: UseCaseACE, wantMIME: ""},
		{name: "unknown type as file", policy: PolicyAsFile, data: []byte{1, 2}, mime: "application/x-thing", wantUseCase: UseCaseFiles, wantMIME: "application/x-thing"},
		{name: "unknown type reject", policy: PolicyReject, data: []byte{1, 2}, mime: "application/x-thing", wantErr: ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewClassifier(tt.policy).Classify(tt.data, tt.mime)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.UseCase != tt.wantUseCase || u.MIME != tt.wantMIME {
				t.Errorf("got use_case=%q mime=%q, want %q %q", u.UseCase, u.MIME, tt.wantUseCase, tt.wantMIME)
			}
			if u.Name == "" {
				t.Error("expected a generated file name")
			}
		})
	}
}

func TestClassifier_ImageDimensionsAndName(t *testing.T) {
	u, err := NewClassifier(PolicyACEUpload).Classify(testPNG(t, 7, 9), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if u.Width != 7 || u.Height != 9 {
		t.Errorf("dimensions = %dx%d", u.Width, u.Height)
	}
	if !strings.HasSuffix(u.Name, ".png") {
		t.Errorf("name %q lacks .png extension", u.Name)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyACEUpload {
		t.Errorf("empty policy = %q, %v", p, err)
	}
	if _, err := ParsePolicy("drop"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
