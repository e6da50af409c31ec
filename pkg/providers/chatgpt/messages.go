package chatgpt

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/providers"
)

type message struct {
	ID       string   `json:"id"`
	Author   author   `json:"author"`
	Content  content  `json:"content"`
	Metadata metadata `json:"metadata"`
}

type author struct {
	Role string `json:"role"`
}

type content struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts"`
}

type metadata struct {
	Attachments []attachmentRef `json:"attachments,omitempty"`
}

type attachmentRef struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MIMEType      string `json:"mime_type"`
	Size          int64  `json:"size"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	FileTokenSize int    `json:"file_token_size,omitempty"`
}

type imagePointer struct {
	AssetPointer string `json:"asset_pointer"`
	ContentType  string `json:"content_type"`
	Height       int    `json:"height"`
	SizeBytes    int64  `json:"size_bytes"`
	Width        int    `json:"width"`
}

const assetScheme = "file-service://"

var errAnonymousAttachments = errors.New("attachments require a signed-in session")

// formatMessages converts canonical messages, uploading every image and file
// part through the attachment cache.
func (a *Adapter) formatMessages(ctx context.Context, msgs []canonical.Message) ([]message, error) {
	out := make([]message, 0, len(msgs))

	for _, m := range msgs {
		msg := message{
			ID:      uuid.NewString(),
			Author:  author{Role: string(m.Role)},
			Content: content{ContentType: "text", Parts: []any{}},
		}

		for _, part := range m.Parts {
			if part.Kind() == canonical.PartText {
				msg.Content.Parts = append(msg.Content.Parts, part.Text())
				continue
			}

			rec, err := a.upload(ctx, part)
			if err != nil {
				return nil, err
			}

			ref := attachmentRef{
				ID:       rec.RemoteFileID,
				Name:     rec.RemoteName,
				MIMEType: rec.MIME,
				Size:     rec.Size,
			}
			switch {
			case rec.IsImage():
				msg.Content.ContentType = "multimodal_text"
				msg.Content.Parts = append(msg.Content.Parts, imagePointer{
					AssetPointer: assetScheme + rec.RemoteFileID,
					ContentType:  "image_asset_pointer",
					Height:       rec.Height,
					SizeBytes:    rec.Size,
					Width:        rec.Width,
				})
				ref.Width, ref.Height = rec.Width, rec.Height
			case rec.UseCase == attachments.UseCaseFiles:
				ref.FileTokenSize = rec.TokenCount
			}
			msg.Metadata.Attachments = append(msg.Metadata.Attachments, ref)
		}

		if len(msg.Content.Parts) == 0 {
			msg.Content.Parts = append(msg.Content.Parts, "")
		}
		out = append(out, msg)
	}

	return out, nil
}

func (a *Adapter) upload(ctx context.Context, part canonical.Part) (*attachments.Record, error) {
	if a.cache == nil {
		return nil, &providers.AttachmentError{Provider: Name, Op: "resolve", Cause: errAnonymousAttachments}
	}
	data, mimeType, err := a.PartContent(ctx, part)
	if err != nil {
		return nil, err
	}
	return a.cache.Resolve(ctx, data, mimeType)
}
