package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Options configures a Cache.
type Options struct {
	// Policy handles unadvertised mime types.
	// Default: PolicyACEUpload
	Policy Policy

	// PollAttempts bounds the token-count poll after a file upload. Zero
	// disables polling.
	PollAttempts int

	// PollInterval is the first delay of the poll backoff.
	// Default: 500ms
	PollInterval time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Cache resolves content to remote files for one backend.
type Cache struct {
	store  Store
	remote Remote
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	// uploads serializes the miss path per content hash.
	uploads singleflight.Group
}

// NewCache returns a cache uploading through remote and remembering the
// results in store.
func NewCache(store Store, remote Remote, opts Options) *Cache {
	if opts.Policy == "" {
		opts.Policy = PolicyACEUpload
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		remote: remote,
		opts:   opts,
		logger: logger.With("component", "attachments", "backend", remote.Backend()),
		now:    time.Now,
	}
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Resolve returns the record for data, uploading it if the backend does not
// hold a live copy. Failures are returned as *providers.AttachmentError.
func (c *Cache) Resolve(ctx context.Context, data []byte, mimeType string) (rec *Record, err error) {
	backend := c.remote.Backend()
	hash := Hash(data)

	ctx, span := tracing.Start(ctx, "attachments.resolve",
		attribute.String(tracing.AttrBackend, backend),
		attribute.String(tracing.AttrContentSHA, hash),
	)
	defer func() { tracing.End(span, err) }()

	cached, err := c.store.Get(ctx, backend, hash)
	if err != nil {
		return nil, c.fail("lookup", err)
	}

	var stale string
	if cached != nil {
		live, err := c.live(ctx, cached)
		if err != nil {
			return nil, c.fail("describe", err)
		}
		if live {
			span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, true))
			c.observe("hit")
			if err := c.store.Touch(ctx, backend, hash, c.now()); err != nil {
				c.logger.Warn("failed to touch attachment record", "hash", hash, "error", err)
			}
			return cached, nil
		}
		stale = cached.RemoteFileID
		c.logger.Info("cached attachment missing on backend, re-uploading",
			"hash", hash,
			"remote_file_id", stale,
		)
	}
	span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, false))

	ch := c.uploads.DoChan(hash, func() (any, error) {
		return c.upload(context.WithoutCancel(ctx), hash, data, mimeType, stale)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Record), nil
	}
}

// live asks the backend whether the cached file still exists.
func (c *Cache) live(ctx context.Context, rec *Record) (bool, error) {
	_, err := c.remote.Describe(ctx, rec.RemoteFileID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrRemoteMissing) {
		return false, nil
	}
	return false, err
}

// upload runs the miss path. It re-reads the store first: a concurrent
// resolution that finished after our lookup has already written the record.
func (c *Cache) upload(ctx context.Context, hash string, data []byte, mimeType, stale string) (*Record, error) {
	backend := c.remote.Backend()

	current, err := c.store.Get(ctx, backend, hash)
	if err != nil {
		return nil, c.fail("lookup", err)
	}
	if current != nil && (stale == "" || current.RemoteFileID != stale) {
		c.observe("hit")
		return current, nil
	}

	classifier := c.classifier(ctx)
	u, err := classifier.Classify(data, mimeType)
	if err != nil {
		return nil, c.fail("classify", err)
	}

	slot, err := c.remote.RequestSlot(ctx, u)
	if err != nil {
		return nil, c.fail("request_slot", err)
	}
	if err := c.remote.Put(ctx, slot, u); err != nil {
		return nil, c.fail("put", err)
	}
	if err := c.remote.Confirm(ctx, slot); err != nil {
		return nil, c.fail("confirm", err)
	}

	now := c.now()
	rec := &Record{
		Backend:      backend,
		ContentHash:  hash,
		RemoteFileID: slot.FileID,
		RemoteName:   u.Name,
		MIME:         u.MIME,
		UseCase:      u.UseCase,
		Size:         int64(len(data)),
		Width:        u.Width,
		Height:       u.Height,
		CreatedAt:    now,
		LastUsedAt:   now,
	}

	if u.UseCase == UseCaseFiles && c.opts.PollAttempts > 0 {
		if rf, err := c.pollTokens(ctx, slot.FileID); err != nil {
			c.logger.Warn("token count unavailable", "remote_file_id", slot.FileID, "error", err)
		} else {
			rec.TokenCount = rf.TokenCount
			if rf.Size > 0 {
				rec.Size = rf.Size
			}
		}
	}

	if err := c.store.Put(ctx, rec); err != nil {
		return nil, c.fail("store", err)
	}

	if stale != "" {
		c.observe("reupload")
	} else {
		c.observe("miss")
	}
	c.logger.Info("attachment uploaded",
		"hash", hash,
		"remote_file_id", rec.RemoteFileID,
		"use_case", rec.UseCase,
		"size", rec.Size,
	)
	return rec, nil
}

// pollTokens waits with a short backoff for the backend to report a token
// count.
func (c *Cache) pollTokens(ctx context.Context, fileID string) (*RemoteFile, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.PollInterval
	b.MaxInterval = 4 * c.opts.PollInterval

	return backoff.Retry(ctx, func() (*RemoteFile, error) {
		rf, err := c.remote.Describe(ctx, fileID)
		if err != nil {
			if errors.Is(err, ErrRemoteMissing) || providers.IsAuth(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if rf.TokenCount <= 0 {
			return nil, errors.New("token count not ready")
		}
		return rf, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.opts.PollAttempts)))
}

// classifier builds a classifier from the remote's advertised types when it
// publishes them.
func (c *Cache) classifier(ctx context.Context) *Classifier {
	cl := NewClassifier(c.opts.Policy)
	if adv, ok := c.remote.(TypeAdvertiser); ok {
		images, files, err := adv.AcceptedTypes(ctx)
		if err != nil {
			c.logger.Warn("failed to load accepted types, using defaults", "error", err)
			return cl
		}
		if len(images) > 0 {
			cl.ImageTypes = images
		}
		if len(files) > 0 {
			cl.FileTypes = files
		}
	}
	return cl
}

func (c *Cache) fail(op string, err error) error {
	c.observe("error")
	var ae *providers.AttachmentError
	if errors.As(err, &ae) {
		return err
	}
	return &providers.AttachmentError{Provider: c.remote.Backend(), Op: op, Cause: err}
}

func (c *Cache) observe(outcome string) {
	if c.opts.Observer != nil {
		c.opts.Observer.RecordAttachment(c.remote.Backend(), outcome)
	}
}

// Store returns the underlying record store.
func (c *Cache) Store() Store {
	return c.store
}
