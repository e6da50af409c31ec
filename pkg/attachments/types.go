package attachments

import (
	"context"
	"errors"
	"time"
)

// Use cases understood by upload slots.
const (
	UseCaseMultimodal = "multimodal"
	UseCaseFiles      = "my_files"
	UseCaseACE        = "ace_upload"
)

// Record is what a backend knows about one uploaded content hash.
type Record struct {
	Backend      string    `json:"backend"`
	ContentHash  string    `json:"content_hash"`
	RemoteFileID string    `json:"remote_file_id"`
	RemoteName   string    `json:"remote_name"`
	MIME         string    `json:"mime"`
	UseCase      string    `json:"use_case"`
	Size         int64     `json:"size"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	TokenCount   int       `json:"token_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// IsImage reports whether the record was uploaded as an image.
func (r *Record) IsImage() bool {
	return r.UseCase == UseCaseMultimodal
}

// Store persists records keyed by (backend, content hash). Put overwrites.
type Store interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, backend, hash string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, backend, hash string) error
	Touch(ctx context.Context, backend, hash string, at time.Time) error

	// List returns the records of backend, or of every backend when empty.
	List(ctx context.Context, backend string) ([]*Record, error)

	// Prune deletes records not used since before and returns the count.
	Prune(ctx context.Context, before time.Time) (int, error)

	Close() error
}

// Upload describes content about to be sent.
type Upload struct {
	Name    string
	MIME    string
	UseCase string
	Data    []byte
	Width   int
	Height  int
}

// Slot is an upload destination handed out by the backend.
type Slot struct {
	FileID    string
	UploadURL string
}

// RemoteFile is the backend's view of an uploaded file.
type RemoteFile struct {
	ID         string
	Name       string
	Size       int64
	TokenCount int
}

// ErrRemoteMissing is returned by Describe when the backend no longer has
// the file.
var ErrRemoteMissing = errors.New("remote file not found")

// Remote is a backend's upload primitive.
type Remote interface {
	// Backend names the backend records are stored under.
	Backend() string
	RequestSlot(ctx context.Context, u Upload) (Slot, error)
	Put(ctx context.Context, slot Slot, u Upload) error
	Confirm(ctx context.Context, slot Slot) error
	Describe(ctx context.Context, fileID string) (*RemoteFile, error)
}

// TypeAdvertiser is implemented by remotes that publish the mime types they
// accept.
type TypeAdvertiser interface {
	AcceptedTypes(ctx context.Context) (images, files []string, err error)
}

// Observer receives cache outcomes (metrics). Outcomes are "hit", "miss",
// "reupload" and "error".
type Observer interface {
	RecordAttachment(backend, outcome string)
}
