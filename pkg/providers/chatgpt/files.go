package chatgpt

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
)

// remote implements attachments.Remote against the files API.
type remote struct {
	a *Adapter
}

var (
	_ attachments.Remote         = (*remote)(nil)
	_ attachments.TypeAdvertiser = (*remote)(nil)
)

func (r *remote) Backend() string { return Name }

func (r *remote) auth(ctx context.Context) (http.Header, error) {
	secret, err := r.a.cred.Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.a.headers(secret), nil
}

func (r *remote) RequestSlot(ctx context.Context, u attachments.Upload) (attachments.Slot, error) {
	header, err := r.auth(ctx)
	if err != nil {
		return attachments.Slot{}, err
	}

	body := map[string]any{
		"file_name": u.Name,
		"file_size": len(u.Data),
		"use_case":  u.UseCase,
	}
	var resp struct {
		UploadURL string `json:"upload_url"`
		FileID    string `json:"file_id"`
	}
	if err := r.a.DoJSON(ctx, http.MethodPost, r.a.URL("/backend-api/files"), body, &resp, header); err != nil {
		return attachments.Slot{}, err
	}
	if resp.FileID == "" || resp.UploadURL == "" {
		return attachments.Slot{}, &providers.UpstreamError{Provider: Name, Detail: "upload slot without file id or url"}
	}
	return attachments.Slot{FileID: resp.FileID, UploadURL: resp.UploadURL}, nil
}

// Put writes the content to the blob store behind the slot. The blob store
// is a different origin, so no backend credentials are sent.
func (r *remote) Put(ctx context.Context, slot attachments.Slot, u attachments.Upload) error {
	header := http.Header{}
	header.Set("X-Ms-Blob-Type", "BlockBlob")
	if u.MIME != "" {
		header.Set("Content-Type", u.MIME)
	}
	_, _, err := r.a.DoBytes(ctx, http.MethodPut, slot.UploadURL, u.Data, header)
	return err
}

func (r *remote) Confirm(ctx context.Context, slot attachments.Slot) error {
	header, err := r.auth(ctx)
	if err != nil {
		return err
	}
	var resp struct {
		Status string `json:"status"`
	}
	url := r.a.URL("/backend-api/files/" + slot.FileID + "/uploaded")
	if err := r.a.DoJSON(ctx, http.MethodPost, url, map[string]any{}, &resp, header); err != nil {
		return err
	}
	if resp.Status != "success" {
		return &providers.UpstreamError{Provider: Name, Detail: fmt.Sprintf("upload check returned status %q", resp.Status)}
	}
	return nil
}

func (r *remote) Describe(ctx context.Context, fileID string) (*attachments.RemoteFile, error) {
	header, err := r.auth(ctx)
	if err != nil {
		return nil, err
	}
	var resp struct {
		FileName       string `json:"file_name"`
		Size           int64  `json:"size"`
		FileSizeTokens int    `json:"file_size_tokens"`
	}
	if err := r.a.DoJSON(ctx, http.MethodGet, r.a.URL("/backend-api/files/"+fileID), nil, &resp, header); err != nil {
		var upstream *providers.UpstreamError
		if errors.As(err, &upstream) && (upstream.StatusCode == http.StatusNotFound || upstream.StatusCode == http.StatusGone) {
			return nil, attachments.ErrRemoteMissing
		}
		return nil, err
	}
	return &attachments.RemoteFile{
		ID:         fileID,
		Name:       resp.FileName,
		Size:       resp.Size,
		TokenCount: resp.FileSizeTokens,
	}, nil
}

type acceptedTypes struct {
	images []string
	files  []string
}

// AcceptedTypes reads the mime lists the first attachment-capable model
// advertises. A successful answer is kept for the adapter's lifetime.
func (r *remote) AcceptedTypes(ctx context.Context) ([]string, []string, error) {
	r.a.mu.Lock()
	cached := r.a.types
	r.a.mu.Unlock()
	if cached != nil {
		return cached.images, cached.files, nil
	}

	header, err := r.auth(ctx)
	if err != nil {
		return nil, nil, err
	}
	var resp struct {
		Models []struct {
			Slug            string `json:"slug"`
			ProductFeatures *struct {
				Attachments struct {
					AcceptedMIMETypes []string `json:"accepted_mime_types"`
					ImageMIMETypes    []string `json:"image_mime_types"`
				} `json:"attachments"`
			} `json:"product_features"`
		} `json:"models"`
	}
	if err := r.a.DoJSON(ctx, http.MethodGet, r.a.URL("/backend-api/models"), nil, &resp, header); err != nil {
		return nil, nil, err
	}

	types := &acceptedTypes{}
	for _, m := range resp.Models {
		if m.ProductFeatures != nil {
			types.images = m.ProductFeatures.Attachments.ImageMIMETypes
			types.files = m.ProductFeatures.Attachments.AcceptedMIMETypes
			break
		}
	}
	if types.images == nil && types.files == nil {
		return nil, nil, errors.New("no model advertises attachment support")
	}

	r.a.mu.Lock()
	r.a.types = types
	r.a.mu.Unlock()
	return types.images, types.files, nil
}

// downloader fetches generated files referenced in the stream.
type downloader struct {
	a      *Adapter
	secret credentials.Secret
}

func (d *downloader) Fetch(ctx context.Context, ref stream.FileRef) (*stream.Attachment, error) {
	header := d.a.headers(d.secret)

	var info struct {
		DownloadURL string `json:"download_url"`
		// Older deployments misspell the field.
		LegacyURL string `json:"downlad_url"`
		FileName  string `json:"file_name"`
	}
	url := d.a.URL("/backend-api/files/" + ref.ID + "/download")
	if err := d.a.DoJSON(ctx, http.MethodGet, url, nil, &info, header); err != nil {
		return nil, err
	}

	target := info.DownloadURL
	if target == "" {
		target = info.LegacyURL
	}
	if target == "" {
		return nil, fmt.Errorf("no download url for file %s", ref.ID)
	}
	if strings.HasPrefix(target, "/") {
		target = d.a.URL(target)
	}

	data, respHeader, err := d.a.DoBytes(ctx, http.MethodGet, target, nil, header)
	if err != nil {
		return nil, err
	}

	name := info.FileName
	mimeType, _, _ := mime.ParseMediaType(respHeader.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
			mimeType, _, _ = mime.ParseMediaType(byExt)
		}
	}
	if name == "" {
		name = ref.ID
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			name += exts[0]
		}
	}

	return &stream.Attachment{Name: name, MIME: mimeType, Data: data}, nil
}
