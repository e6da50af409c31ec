// Package huggingchat adapts the HuggingChat web application.
//
// Every request opens a fresh conversation bound to the requested model and
// the system prompt, reads the id of its root message and posts the prompt
// as a reply to it. Images travel inline as base64. Generated files are
// downloaded from the conversation's output endpoint.
package huggingchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Name is the backend identifier.
const Name = "huggingchat"

const sessionCookie = "hf-chat"

// DefaultModels maps canonical model IDs to HuggingChat model names.
var DefaultModels = providers.ModelMap{
	"command-r-plus":                 "CohereForAI/c4ai-command-r-plus",
	"llama-3-70b-instruct":           "meta-llama/Meta-Llama-3-70B-Instruct",
	"zephyr-141b-a35b":               "HuggingFaceH4/zephyr-orpo-141b-A35b-v0.1",
	"mixtral-8x7b-instruct":          "mistralai/Mixtral-8x7B-Instruct-v0.1",
	"nous-hermes-2-mixtral-8x7b-dpo": "NousResearch/Nous-Hermes-2-Mixtral-8x7B-DPO",
	"yi-1.5-34b-chat":                "01-ai/Yi-1.5-34B-Chat",
	"gemma-1.1-7b-instruct":          "google/gemma-1.1-7b-it",
	"mistral-7b-instruct":            "mistralai/Mistral-7B-Instruct-v0.2",
	"phi-3-mini-4k-instruct":         "microsoft/Phi-3-mini-4k-instruct",
}

// Config configures the adapter.
type Config struct {
	Provider providers.ProviderConfig

	// SessionSecret names the hf-chat cookie secret.
	SessionSecret string

	// KeepConversations leaves conversations in the account history
	// instead of deleting them when the stream closes.
	KeepConversations bool

	// WebSearch enables the backend's web search tool.
	WebSearch bool

	Models []string
}

// Deps are the shared services the adapter uses.
type Deps struct {
	Secrets            providers.SecretSource
	CredentialObserver credentials.Observer
	Logger             *slog.Logger
}

// Adapter is the HuggingChat backend adapter.
type Adapter struct {
	*providers.HTTPProvider

	cfg     Config
	models  providers.ModelMap
	secrets providers.SecretSource
	cred    *credentials.Credential
	logger  *slog.Logger
}

var _ providers.Adapter = (*Adapter)(nil)

// New builds the adapter.
func New(cfg Config, deps Deps) (*Adapter, error) {
	if cfg.SessionSecret == "" {
		return nil, &providers.ConfigError{Provider: Name, Field: "session_secret", Message: "the hf-chat cookie secret is required"}
	}
	if deps.Secrets == nil {
		return nil, &providers.ConfigError{Provider: Name, Field: "secrets", Message: "no secret source configured"}
	}

	cfg.Provider.Name = Name
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		HTTPProvider: providers.NewHTTPProvider(cfg.Provider),
		cfg:          cfg,
		models:       DefaultModels.Restrict(cfg.Models),
		secrets:      deps.Secrets,
		logger:       logger.With("component", "provider", "provider", Name),
	}
	if len(a.models) == 0 {
		return nil, &providers.ConfigError{Provider: Name, Field: "models", Message: "no known model selected"}
	}
	a.cred = credentials.New(Name, a.refresh, credentials.WithObserver(deps.CredentialObserver))
	return a, nil
}

// Name returns the backend identifier.
func (a *Adapter) Name() string { return Name }

// Models returns the canonical model IDs served.
func (a *Adapter) Models() []string { return a.models.IDs() }

// Supports reports whether model is served.
func (a *Adapter) Supports(model string) bool {
	_, ok := a.models[model]
	return ok
}

// Credential returns the session credential.
func (a *Adapter) Credential() *credentials.Credential { return a.cred }

func (a *Adapter) refresh(ctx context.Context) (credentials.Secret, error) {
	value, err := a.secrets.GetSecret(ctx, a.cfg.SessionSecret)
	if err != nil {
		return credentials.Secret{}, fmt.Errorf("load session cookie: %w", err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return credentials.Secret{}, &providers.AuthError{Provider: Name, Message: "empty " + sessionCookie + " cookie"}
	}
	return credentials.Secret{Cookies: map[string]string{sessionCookie: value}}, nil
}

func (a *Adapter) headers(secret credentials.Secret) http.Header {
	h := http.Header{}
	h.Set("Cookie", providers.CookieHeader(secret.Cookies))
	h.Set("Origin", strings.TrimSuffix(a.Config().BaseURL, "/chat"))
	return h
}

type inlineFile struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	MIME  string `json:"mime"`
	Name  string `json:"name"`
}

type tools struct {
	WebSearch       bool `json:"websearch"`
	FetchURL        bool `json:"fetch_url"`
	DocumentParser  bool `json:"document_parser"`
	QueryCalculator bool `json:"query_calculator"`
	ImageEditing    bool `json:"image_editing"`
	ImageGeneration bool `json:"image_generation"`
}

type promptRequest struct {
	Inputs     string       `json:"inputs"`
	ID         string       `json:"id"`
	IsRetry    bool         `json:"is_retry"`
	IsContinue bool         `json:"is_continue"`
	WebSearch  bool         `json:"web_search"`
	Files      []inlineFile `json:"files"`
	Tools      tools        `json:"tools"`
}

// Prepare opens a conversation, resolves its root message and builds the
// prompt request.
func (a *Adapter) Prepare(ctx context.Context, req *canonical.Request) (raw *providers.RawRequest, err error) {
	model, err := a.models.Resolve(Name, req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "huggingchat.prepare",
		attribute.String(tracing.AttrBackend, Name),
		attribute.String(tracing.AttrModel, req.Model),
	)
	defer func() { tracing.End(span, err) }()

	// Inline files are resolved first so a bad attachment costs no
	// conversation.
	files, err := a.inlineFiles(ctx, req.Messages)
	if err != nil {
		return nil, err
	}

	secret, err := a.cred.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = providers.StampGeneration(err, secret.Generation) }()

	header := a.headers(secret)

	var conv struct {
		ConversationID string `json:"conversationId"`
	}
	body := map[string]string{"model": model, "preprompt": req.SystemPrompt()}
	if err := a.DoJSON(ctx, http.MethodPost, a.URL("/conversation"), body, &conv, header); err != nil {
		return nil, err
	}
	if conv.ConversationID == "" {
		return nil, &providers.UpstreamError{Provider: Name, Detail: "conversation created without an id"}
	}

	raw = &providers.RawRequest{
		Model:      model,
		Method:     http.MethodPost,
		URL:        a.URL("/conversation/" + conv.ConversationID),
		Generation: secret.Generation,
		State:      conversation{id: conv.ConversationID, header: header.Clone()},
	}
	if !a.cfg.KeepConversations {
		raw.OnRelease(a.deleteConversation(ctx, conv.ConversationID, header.Clone()))
	}

	messageID, err := a.rootMessage(ctx, conv.ConversationID, header)
	if err != nil {
		raw.Release()
		return nil, err
	}

	raw.Header = header
	raw.Body = promptRequest{
		Inputs:    providers.Transcript(req.Messages, false),
		ID:        messageID,
		WebSearch: a.cfg.WebSearch,
		Files:     files,
		Tools: tools{
			WebSearch:       a.cfg.WebSearch,
			FetchURL:        true,
			DocumentParser:  true,
			ImageEditing:    true,
			ImageGeneration: true,
		},
	}
	return raw, nil
}

// rootMessage reads the id of the message a new prompt replies to from the
// conversation page data.
func (a *Adapter) rootMessage(ctx context.Context, conversationID string, header http.Header) (string, error) {
	var page struct {
		Nodes []struct {
			Data []json.RawMessage `json:"data"`
		} `json:"nodes"`
	}
	url := a.URL("/conversation/" + conversationID + "/__data.json?x-sveltekit-invalidated=11")
	if err := a.DoJSON(ctx, http.MethodGet, url, nil, &page, header); err != nil {
		return "", err
	}
	if len(page.Nodes) < 2 || len(page.Nodes[1].Data) < 4 {
		return "", &providers.ParseError{Provider: Name, Cause: fmt.Errorf("conversation data has no root message")}
	}

	var id string
	if err := json.Unmarshal(page.Nodes[1].Data[3], &id); err != nil || id == "" {
		return "", &providers.ParseError{
			Provider:    Name,
			RawResponse: string(page.Nodes[1].Data[3]),
			Cause:       fmt.Errorf("root message id is not a string"),
		}
	}
	return id, nil
}

func (a *Adapter) deleteConversation(ctx context.Context, id string, header http.Header) func() {
	ctx = context.WithoutCancel(ctx)
	return func() {
		if _, _, err := a.DoBytes(ctx, http.MethodDelete, a.URL("/conversation/"+id), nil, header); err != nil {
			a.logger.Warn("failed to delete conversation", "conversation_id", id, "error", err)
		}
	}
}

// inlineFiles encodes every image and file part for the files field.
func (a *Adapter) inlineFiles(ctx context.Context, msgs []canonical.Message) ([]inlineFile, error) {
	files := []inlineFile{}
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind() == canonical.PartText {
				continue
			}
			data, mimeType, err := a.PartContent(ctx, p)
			if err != nil {
				return nil, err
			}
			name := p.Name()
			if name == "" {
				name = "file"
				if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
					name += exts[0]
				}
			}
			files = append(files, inlineFile{
				Type:  "base64",
				Value: base64.StdEncoding.EncodeToString(data),
				MIME:  mimeType,
				Name:  name,
			})
		}
	}
	return files, nil
}

type conversation struct {
	id     string
	header http.Header
}

// Execute posts the prompt. The answer is an NDJSON stream.
func (a *Adapter) Execute(ctx context.Context, raw *providers.RawRequest) (*providers.RawStream, error) {
	resp, err := a.DoStream(ctx, raw.Method, raw.URL, raw.Body, raw.Header)
	if err != nil {
		return nil, err
	}

	conv, _ := raw.State.(conversation)
	return &providers.RawStream{
		Body:    resp.Body,
		Framing: stream.FramingNDJSON,
		Decoder: NewDecoder(),
		Fetcher: &downloader{a: a, conv: conv},
		OnClose: raw.TakeRelease(),
	}, nil
}

// downloader fetches generated files by content hash.
type downloader struct {
	a    *Adapter
	conv conversation
}

func (d *downloader) Fetch(ctx context.Context, ref stream.FileRef) (*stream.Attachment, error) {
	url := d.a.URL("/conversation/" + d.conv.id + "/output/" + ref.ID)
	data, header, err := d.a.DoBytes(ctx, http.MethodGet, url, nil, d.conv.header)
	if err != nil {
		return nil, err
	}

	mimeType := ref.MIME
	if mimeType == "" {
		mimeType, _, _ = mime.ParseMediaType(header.Get("Content-Type"))
	}
	name := ref.Name
	if name == "" {
		name = ref.ID
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			name += exts[0]
		}
	}
	return &stream.Attachment{Name: name, MIME: mimeType, Data: data}, nil
}
