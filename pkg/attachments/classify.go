package attachments

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // gif dimensions
	_ "image/jpeg" // jpeg dimensions
	_ "image/png"  // png dimensions
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp" // webp dimensions
)

// Policy decides how content of an unadvertised mime type is uploaded.
type Policy string

const (
	// PolicyACEUpload uploads with the ace_upload use case and no mime type.
	PolicyACEUpload Policy = "ace_upload"

	// PolicyAsFile uploads as a generic file, keeping the mime type.
	PolicyAsFile Policy = "as_file"

	// PolicyReject fails the resolution.
	PolicyReject Policy = "reject"
)

// ParsePolicy validates a policy name. Empty selects PolicyACEUpload.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyACEUpload, nil
	case PolicyACEUpload, PolicyAsFile, PolicyReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown attachment fallback policy %q", s)
}

// DefaultImageTypes and DefaultFileTypes are used when the remote does not
// advertise its own lists.
var (
	DefaultImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}
	DefaultFileTypes  = []string{
		"text/plain", "text/markdown", "text/csv", "text/html",
		"application/pdf", "application/json",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}
)

// ErrUnsupportedType is returned under PolicyReject.
var ErrUnsupportedType = errors.New("unsupported attachment type")

// Classifier maps content to the use case, mime type and dimensions it is
// uploaded with.
type Classifier struct {
	Policy     Policy
	ImageTypes []string
	FileTypes  []string
}

// NewClassifier returns a classifier with the default type lists.
func NewClassifier(policy Policy) *Classifier {
	return &Classifier{Policy: policy, ImageTypes: DefaultImageTypes, FileTypes: DefaultFileTypes}
}

// Classify prepares an Upload for data. The mime type is sniffed when empty.
// An advertised image that fails to decode is demoted to text/plain.
func (c *Classifier) Classify(data []byte, mimeType string) (Upload, error) {
	mimeType = normalizeMIME(mimeType)
	if mimeType == "" {
		mimeType = normalizeMIME(http.DetectContentType(data))
	}

	u := Upload{MIME: mimeType, Data: data}

	if slices.Contains(c.ImageTypes, mimeType) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err == nil {
			u.UseCase = UseCaseMultimodal
			u.Width, u.Height = cfg.Width, cfg.Height
			u.Name = fileName(mimeType)
			return u, nil
		}
		u.MIME = "text/plain"
	}

	if slices.Contains(c.FileTypes, u.MIME) {
		u.UseCase = UseCaseFiles
		u.Name = fileName(u.MIME)
		return u, nil
	}

	switch c.Policy {
	case PolicyReject:
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	case PolicyAsFile:
		u.UseCase = UseCaseFiles
		u.Name = fileName(u.MIME)
	default:
		u.UseCase = UseCaseACE
		u.Name = fileName(u.MIME)
		u.MIME = ""
	}
	return u, nil
}

func normalizeMIME(s string) string {
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(s, ";", 2)[0]))
	}
	return mt
}

// fileName returns a random name with an extension matching mimeType.
func fileName(mimeType string) string {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return name + exts[0]
	}
	return name
}
