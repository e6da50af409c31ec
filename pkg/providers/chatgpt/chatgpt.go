// Package chatgpt adapts the ChatGPT web application.
//
// The adapter works signed in (session token secret → short-lived access
// token) or anonymously. Every completion call is guarded by the sentinel:
// a chat-requirements token plus, when demanded, a SHA3 proof-of-work
// answer. Image and file parts are uploaded through the attachment cache and
// referenced by file id.
package chatgpt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Name is the backend identifier.
const Name = "chatgpt"

const (
	sessionCookie = "__Secure-next-auth.session-token"
	deviceCookie  = "oai-did"

	backendAPI  = "backend-api"
	backendAnon = "backend-anon"

	// extraBackend is the Secret.Extra key holding the API prefix.
	extraBackend = "backend"
)

// DefaultModels maps canonical model IDs to ChatGPT model slugs.
var DefaultModels = providers.ModelMap{
	"gpt-3.5":     "text-davinci-002-render-sha",
	"gpt-4o":      "gpt-4o",
	"gpt-4o-mini": "gpt-4o-mini",
	"auto":        "auto",
}

// Config configures the adapter.
type Config struct {
	Provider providers.ProviderConfig

	// SessionTokenSecret names the session cookie secret. Empty runs the
	// adapter anonymously.
	SessionTokenSecret string

	// DeviceID is sent as Oai-Device-Id; random when empty.
	DeviceID string

	// Models restricts DefaultModels.
	Models []string
}

// Deps are the shared services the adapter uses.
type Deps struct {
	Secrets providers.SecretSource

	// Solver answers sentinel challenges. It should be bound to a pow.Pool.
	Solver pow.Solver

	// Attachments stores upload records. A memory store is used when nil.
	Attachments       attachments.Store
	AttachmentOptions attachments.Options

	CredentialObserver credentials.Observer
	Logger             *slog.Logger
}

// Adapter is the ChatGPT backend adapter.
type Adapter struct {
	*providers.HTTPProvider

	cfg      Config
	models   providers.ModelMap
	deviceID string
	secrets  providers.SecretSource
	solver   pow.Solver
	cred     *credentials.Credential
	cache    *attachments.Cache
	logger   *slog.Logger

	mu    sync.Mutex
	types *acceptedTypes
}

var _ providers.Adapter = (*Adapter)(nil)

// New builds the adapter.
func New(cfg Config, deps Deps) (*Adapter, error) {
	if deps.Solver == nil {
		return nil, &providers.ConfigError{Provider: Name, Field: "solver", Message: "a proof-of-work solver is required"}
	}
	if cfg.SessionTokenSecret != "" && deps.Secrets == nil {
		return nil, &providers.ConfigError{Provider: Name, Field: "session_token_secret", Message: "no secret source configured"}
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
		deviceID:     cfg.DeviceID,
		secrets:      deps.Secrets,
		solver:       deps.Solver,
		logger:       logger.With("component", "provider", "provider", Name),
	}
	if a.deviceID == "" {
		a.deviceID = uuid.NewString()
	}
	if len(a.models) == 0 {
		return nil, &providers.ConfigError{Provider: Name, Field: "models", Message: "no known model selected"}
	}

	a.cred = credentials.New(Name, a.refresh, credentials.WithObserver(deps.CredentialObserver))

	if !a.anonymous() {
		store := deps.Attachments
		if store == nil {
			store = attachments.NewMemoryStore()
		}
		opts := deps.AttachmentOptions
		if opts.Logger == nil {
			opts.Logger = logger
		}
		a.cache = attachments.NewCache(store, &remote{a: a}, opts)
	}

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

func (a *Adapter) anonymous() bool {
	return a.cfg.SessionTokenSecret == ""
}

// refresh exchanges the session cookie for an access token.
func (a *Adapter) refresh(ctx context.Context) (credentials.Secret, error) {
	cookies := map[string]string{deviceCookie: a.deviceID}
	if a.anonymous() {
		return credentials.Secret{
			Cookies: cookies,
			Extra:   map[string]string{extraBackend: backendAnon},
		}, nil
	}

	token, err := a.secrets.GetSecret(ctx, a.cfg.SessionTokenSecret)
	if err != nil {
		return credentials.Secret{}, fmt.Errorf("load session token: %w", err)
	}
	cookies[sessionCookie] = token

	var session struct {
		AccessToken string `json:"accessToken"`
		Expires     string `json:"expires"`
	}
	if err := a.DoJSON(ctx, http.MethodGet, a.URL("/api/auth/session"), nil, &session, a.headers(credentials.Secret{Cookies: cookies})); err != nil {
		return credentials.Secret{}, err
	}
	if session.AccessToken == "" {
		return credentials.Secret{}, &providers.AuthError{
			Provider: Name,
			Message:  "session token did not yield an access token; renew the " + sessionCookie + " cookie",
		}
	}

	s := credentials.Secret{
		Token:   session.AccessToken,
		Cookies: cookies,
		Extra:   map[string]string{extraBackend: backendAPI},
	}
	if t, err := time.Parse(time.RFC3339, session.Expires); err == nil {
		s.ExpiresAt = t
	}
	return s, nil
}

// headers returns the headers every authenticated call carries.
func (a *Adapter) headers(secret credentials.Secret) http.Header {
	h := http.Header{}
	h.Set("Oai-Device-Id", a.deviceID)
	h.Set("Oai-Language", "en-US")
	if len(secret.Cookies) > 0 {
		h.Set("Cookie", providers.CookieHeader(secret.Cookies))
	}
	if secret.Token != "" {
		h.Set("Authorization", "Bearer "+secret.Token)
	}
	return h
}

func apiPrefix(secret credentials.Secret) string {
	if p := secret.Extra[extraBackend]; p != "" {
		return p
	}
	return backendAPI
}

// Prepare resolves attachments, obtains the sentinel tokens and builds the
// conversation request.
func (a *Adapter) Prepare(ctx context.Context, req *canonical.Request) (raw *providers.RawRequest, err error) {
	model, err := a.models.Resolve(Name, req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "chatgpt.prepare",
		attribute.String(tracing.AttrBackend, Name),
		attribute.String(tracing.AttrModel, req.Model),
	)
	defer func() { tracing.End(span, err) }()

	secret, err := a.cred.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = providers.StampGeneration(err, secret.Generation) }()

	messages, err := a.formatMessages(ctx, req.Messages)
	if err != nil {
		return nil, err
	}

	reqs, err := a.requirements(ctx, secret)
	if err != nil {
		return nil, err
	}

	header := a.headers(secret)
	header.Set("Accept", "text/event-stream")
	header.Set("Openai-Sentinel-Chat-Requirements-Token", reqs.Token)
	if reqs.ProofOfWork.Required {
		answer, err := a.solve(ctx, reqs.ProofOfWork.Seed, reqs.ProofOfWork.Difficulty)
		if err != nil {
			return nil, err
		}
		header.Set("Openai-Sentinel-Proof-Token", answer.Token)
	}

	return &providers.RawRequest{
		Model:  model,
		Method: http.MethodPost,
		URL:    a.URL("/" + apiPrefix(secret) + "/conversation"),
		Header: header,
		Body: conversationRequest{
			Action:                     "next",
			Model:                      model,
			ParentMessageID:            uuid.NewString(),
			Messages:                   messages,
			HistoryAndTrainingDisabled: true,
			ConversationMode:           conversationMode{Kind: "primary_assistant"},
			WebsocketRequestID:         uuid.NewString(),
		},
		Generation: secret.Generation,
		State:      secret,
	}, nil
}

// Execute performs the conversation call.
func (a *Adapter) Execute(ctx context.Context, raw *providers.RawRequest) (*providers.RawStream, error) {
	resp, err := a.DoStream(ctx, raw.Method, raw.URL, raw.Body, raw.Header)
	if err != nil {
		return nil, err
	}

	secret, _ := raw.State.(credentials.Secret)
	return &providers.RawStream{
		Body:    resp.Body,
		Framing: stream.FramingSSE,
		Decoder: NewDecoder(),
		Fetcher: &downloader{a: a, secret: secret},
	}, nil
}

type conversationRequest struct {
	Action                     string           `json:"action"`
	Model                      string           `json:"model"`
	ParentMessageID            string           `json:"parent_message_id"`
	Messages                   []message        `json:"messages"`
	ConversationID             *string          `json:"conversation_id"`
	HistoryAndTrainingDisabled bool             `json:"history_and_training_disabled"`
	ConversationMode           conversationMode `json:"conversation_mode"`
	ForceParagen               bool             `json:"force_paragen"`
	ForceRateLimit             bool             `json:"force_rate_limit"`
	WebsocketRequestID         string           `json:"websocket_request_id"`
}

type conversationMode struct {
	Kind string `json:"kind"`
}
