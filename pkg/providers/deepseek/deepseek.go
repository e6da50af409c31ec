// Package deepseek adapts the DeepSeek chat web application.
//
// Each completion runs in a throwaway chat session that is deleted when the
// stream closes. The completion call carries a proof-of-work answer computed
// by the backend's own hash kernel.
package deepseek

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/pow"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Name is the backend identifier.
const Name = "deepseek"

const (
	apiPrefix      = "/api/v0"
	completionPath = apiPrefix + "/chat/completion"
	algorithm      = "DeepSeekHashV1"

	extraAppVersion = "app_version"
)

// DefaultModels maps canonical model IDs to DeepSeek models. The reasoner
// is the chat model with thinking enabled.
var DefaultModels = providers.ModelMap{
	"deepseek-chat":     "deepseek-chat",
	"deepseek-reasoner": "deepseek-reasoner",
}

// Config configures the adapter.
type Config struct {
	Provider providers.ProviderConfig

	// TokenSecret names the bearer token secret.
	TokenSecret string

	// CookiesSecret names the cookie jar secret (optional).
	CookiesSecret string

	// AppVersion is sent as x-app-version. Fetched from /version.txt when
	// empty.
	AppVersion string

	Models []string
}

// Deps are the shared services the adapter uses.
type Deps struct {
	Secrets providers.SecretSource

	// Solver answers kernel challenges. It should be a pow.KernelSolver
	// bound to a pow.Pool.
	Solver pow.Solver

	CredentialObserver credentials.Observer
	Logger             *slog.Logger
}

// Adapter is the DeepSeek backend adapter.
type Adapter struct {
	*providers.HTTPProvider

	cfg     Config
	models  providers.ModelMap
	secrets providers.SecretSource
	solver  pow.Solver
	cred    *credentials.Credential
	logger  *slog.Logger
}

var _ providers.Adapter = (*Adapter)(nil)

// New builds the adapter.
func New(cfg Config, deps Deps) (*Adapter, error) {
	if cfg.TokenSecret == "" {
		return nil, &providers.ConfigError{Provider: Name, Field: "token_secret", Message: "a bearer token secret is required"}
	}
	if deps.Secrets == nil {
		return nil, &providers.ConfigError{Provider: Name, Field: "secrets", Message: "no secret source configured"}
	}
	if deps.Solver == nil {
		return nil, &providers.ConfigError{Provider: Name, Field: "solver", Message: "a proof-of-work solver is required"}
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
		solver:       deps.Solver,
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

// refresh re-reads the bearer token and cookie jar. Both are produced
// outside the relay; a refresh picks up rotated values.
func (a *Adapter) refresh(ctx context.Context) (credentials.Secret, error) {
	token, err := a.secrets.GetSecret(ctx, a.cfg.TokenSecret)
	if err != nil {
		return credentials.Secret{}, fmt.Errorf("load bearer token: %w", err)
	}

	s := credentials.Secret{
		Token: strings.TrimSpace(token),
		Extra: map[string]string{extraAppVersion: a.cfg.AppVersion},
	}

	if a.cfg.CookiesSecret != "" {
		raw, err := a.secrets.GetSecret(ctx, a.cfg.CookiesSecret)
		if err != nil {
			return credentials.Secret{}, fmt.Errorf("load cookie jar: %w", err)
		}
		if s.Cookies, err = providers.ParseCookies(raw); err != nil {
			return credentials.Secret{}, fmt.Errorf("parse cookie jar: %w", err)
		}
	}

	if s.Extra[extraAppVersion] == "" {
		data, _, err := a.DoBytes(ctx, http.MethodGet, a.URL("/version.txt"), nil, a.headers(s))
		if err != nil {
			return credentials.Secret{}, fmt.Errorf("fetch app version: %w", err)
		}
		s.Extra[extraAppVersion] = strings.TrimSpace(string(data))
	}

	return s, nil
}

func (a *Adapter) headers(secret credentials.Secret) http.Header {
	h := http.Header{}
	if secret.Token != "" {
		h.Set("Authorization", "Bearer "+secret.Token)
	}
	if len(secret.Cookies) > 0 {
		h.Set("Cookie", providers.CookieHeader(secret.Cookies))
	}
	if v := secret.Extra[extraAppVersion]; v != "" {
		h.Set("X-App-Version", v)
	}
	h.Set("X-Client-Platform", "web")
	return h
}

// envelope is the wrapper every JSON API answer uses.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		BizCode int             `json:"biz_code"`
		BizMsg  string          `json:"biz_msg"`
		BizData json.RawMessage `json:"biz_data"`
	} `json:"data"`
}

// authCodes are in-body codes meaning the bearer token was rejected.
var authCodes = map[int]bool{40001: true, 40002: true, 40003: true}

func (e *envelope) err() error {
	switch {
	case authCodes[e.Code]:
		return &providers.AuthError{Provider: Name, Message: fmt.Sprintf("code %d: %s", e.Code, e.Msg)}
	case e.Code != 0:
		return &providers.UpstreamError{Provider: Name, Detail: fmt.Sprintf("code %d: %s", e.Code, e.Msg)}
	case e.Data.BizCode != 0:
		return &providers.UpstreamError{Provider: Name, Detail: fmt.Sprintf("biz code %d: %s", e.Data.BizCode, e.Data.BizMsg)}
	}
	return nil
}

// call performs a JSON API call and decodes biz_data into out.
func (a *Adapter) call(ctx context.Context, path string, body, out any, header http.Header) error {
	var env envelope
	if err := a.DoJSON(ctx, http.MethodPost, a.URL(path), body, &env, header); err != nil {
		return err
	}
	if err := env.err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data.BizData, out); err != nil {
		return &providers.ParseError{Provider: Name, RawResponse: string(env.Data.BizData), Cause: err}
	}
	return nil
}

// Prepare creates a chat session, solves its proof-of-work challenge and
// builds the completion request. The session is deleted when the request
// is released or its stream closes.
func (a *Adapter) Prepare(ctx context.Context, req *canonical.Request) (raw *providers.RawRequest, err error) {
	model, err := a.models.Resolve(Name, req.Model)
	if err != nil {
		return nil, err
	}
	if err := providers.TextOnly(Name, req.Messages); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "deepseek.prepare",
		attribute.String(tracing.AttrBackend, Name),
		attribute.String(tracing.AttrModel, req.Model),
	)
	defer func() { tracing.End(span, err) }()

	secret, err := a.cred.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = providers.StampGeneration(err, secret.Generation) }()

	header := a.headers(secret)

	var session struct {
		ID string `json:"id"`
	}
	if err := a.call(ctx, apiPrefix+"/chat_session/create", map[string]any{"character_id": nil}, &session, header); err != nil {
		return nil, err
	}

	raw = &providers.RawRequest{
		Model:      model,
		Method:     http.MethodPost,
		URL:        a.URL(completionPath),
		Generation: secret.Generation,
	}
	raw.OnRelease(a.deleteSession(ctx, session.ID, header.Clone()))

	proof, err := a.proof(ctx, header)
	if err != nil {
		raw.Release()
		return nil, err
	}

	header.Set("Accept", "text/event-stream")
	header.Set("X-Ds-Pow-Response", proof)
	raw.Header = header
	raw.Body = completionRequest{
		ChatSessionID:   session.ID,
		Prompt:          providers.Transcript(req.Messages, true),
		RefFileIDs:      []string{},
		ThinkingEnabled: model == "deepseek-reasoner",
	}
	return raw, nil
}

// deleteSession returns the cleanup for a chat session. It runs detached
// from the request so a cancelled client still cleans up.
func (a *Adapter) deleteSession(ctx context.Context, id string, header http.Header) func() {
	ctx = context.WithoutCancel(ctx)
	return func() {
		if err := a.call(ctx, apiPrefix+"/chat_session/delete", map[string]string{"chat_session_id": id}, nil, header); err != nil {
			a.logger.Warn("failed to delete chat session", "session_id", id, "error", err)
		}
	}
}

type challenge struct {
	Algorithm  string  `json:"algorithm"`
	Challenge  string  `json:"challenge"`
	Salt       string  `json:"salt"`
	Signature  string  `json:"signature"`
	Difficulty float64 `json:"difficulty"`
	ExpireAt   int64   `json:"expire_at"`
	TargetPath string  `json:"target_path"`
}

type powResponse struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Answer     int64  `json:"answer"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}

// proof fetches and solves the completion challenge and returns the
// x-ds-pow-response header value.
func (a *Adapter) proof(ctx context.Context, header http.Header) (string, error) {
	var resp struct {
		Challenge challenge `json:"challenge"`
	}
	if err := a.call(ctx, apiPrefix+"/chat/create_pow_challenge", map[string]string{"target_path": completionPath}, &resp, header); err != nil {
		return "", err
	}
	ch := resp.Challenge
	if ch.Algorithm == "" {
		ch.Algorithm = algorithm
	}
	if ch.TargetPath == "" {
		ch.TargetPath = completionPath
	}

	answer, err := a.solver.Solve(ctx, pow.Challenge{
		Algorithm:  ch.Algorithm,
		Challenge:  ch.Challenge,
		Salt:       ch.Salt,
		Target:     ch.Difficulty,
		ExpireAt:   ch.ExpireAt,
		Signature:  ch.Signature,
		TargetPath: ch.TargetPath,
	}, pow.Hint{UserAgent: a.Config().UserAgent})
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(powResponse{
		Algorithm:  ch.Algorithm,
		Challenge:  ch.Challenge,
		Salt:       ch.Salt,
		Answer:     answer.Nonce,
		Signature:  ch.Signature,
		TargetPath: ch.TargetPath,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

type completionRequest struct {
	ChatSessionID   string   `json:"chat_session_id"`
	ParentMessageID *int64   `json:"parent_message_id"`
	Prompt          string   `json:"prompt"`
	RefFileIDs      []string `json:"ref_file_ids"`
	SearchEnabled   bool     `json:"search_enabled"`
	ThinkingEnabled bool     `json:"thinking_enabled"`
}

// Execute performs the completion call. The backend reports errors with
// status 200 and a JSON body instead of an event stream.
func (a *Adapter) Execute(ctx context.Context, raw *providers.RawRequest) (*providers.RawStream, error) {
	resp, err := a.DoStream(ctx, raw.Method, raw.URL, raw.Body, raw.Header)
	if err != nil {
		return nil, err
	}

	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == "application/json" {
		defer resp.Body.Close()
		return nil, inBodyError(resp.Body)
	}

	return &providers.RawStream{
		Body:    resp.Body,
		Framing: stream.FramingSSE,
		Decoder: NewDecoder(),
		OnClose: raw.TakeRelease(),
	}, nil
}

func inBodyError(body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return &providers.TransientError{Provider: Name, Message: "failed to read error body", Cause: err}
	}
	var env envelope
	if json.Unmarshal(data, &env) == nil {
		if err := env.err(); err != nil {
			return err
		}
	}
	return &providers.UpstreamError{Provider: Name, Detail: strings.TrimSpace(string(data))}
}
