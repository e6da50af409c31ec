// Package theb adapts the TheB.AI web API.
//
// The credential is a pool of trial accounts (API key plus organization).
// A refresh selects the next account with a positive balance and resolves
// the backend's model ids for it; an account running dry surfaces as an
// auth failure so the dispatcher rotates to the next one.
package theb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/webrelay/pkg/canonical"
	"mercator-hq/webrelay/pkg/credentials"
	"mercator-hq/webrelay/pkg/providers"
	"mercator-hq/webrelay/pkg/stream"
	"mercator-hq/webrelay/pkg/telemetry/tracing"
)

// Name is the backend identifier.
const Name = "theb"

const (
	extraOrg         = "org_id"
	extraModelPrefix = "model:"
)

// historyPrompt is the system prompt used when the caller sends none. It
// tells the model how to read a JSON transcript.
const historyPrompt = "Act as an AI assistant that responds to user inputs in the language they use. " +
	"Parse the provided JSON-formatted conversation history, but respond only to the final user message " +
	"without referencing the JSON format. Maintain consistency with previous responses and adapt to the " +
	"user's language preference."

// DefaultModels maps canonical model IDs to the display names the backend
// lists in its model catalogue.
var DefaultModels = providers.ModelMap{
	"theb-ai":                    "TheB.AI",
	"claude-3-5-sonnet-20240620": "Claude 3.5 Sonnet",
	"claude-3-opus-20240229":     "Claude 3 Opus",
	"claude-3-sonnet-20240229":   "Claude 3 Sonnet",
	"claude-3-haiku-20240307":    "Claude 3 Haiku",
	"llama-3-70b":                "Llama 3 70B",
	"llama-3-8b":                 "Llama 3 8B",
	"codellama-70b":              "CodeLlama 70B",
	"codellama-34b":              "CodeLlama 34B",
	"codellama-13b":              "CodeLlama 13B",
	"codellama-7b":               "CodeLlama 7B",
	"mixtral-8x22b":              "Mixtral 8x22B",
	"mixtral-8x7b":               "Mixtral 8x7B",
	"mixtral-7b":                 "Mixtral 7B",
	"wizardlm-2-8x22b":           "WizardLM 2 8x22B",
	"dbrx-instruct":              "DBRx Instruct",
	"qwen1.5-110b":               "Qwen1.5 110B",
	"qwen1.5-72b":                "Qwen1.5 72B",
	"qwen1.5-32b":                "Qwen1.5 32B",
	"qwen1.5-14b":                "Qwen1.5 14B",
	"qwen1.5-7b":                 "Qwen1.5 7B",
	"yi-34b":                     "Yi 34B",
}

// Config configures the adapter.
type Config struct {
	Provider providers.ProviderConfig

	// AccountsSecret names a secret holding a JSON list of
	// {"api_key","organization_id"} objects.
	AccountsSecret string

	Models []string
}

// Deps are the shared services the adapter uses.
type Deps struct {
	Secrets            providers.SecretSource
	CredentialObserver credentials.Observer
	Logger             *slog.Logger
}

// Account is one API key and the organization it bills.
type Account struct {
	APIKey         string `json:"api_key"`
	OrganizationID string `json:"organization_id"`
}

// Adapter is the TheB.AI backend adapter.
type Adapter struct {
	*providers.HTTPProvider

	cfg     Config
	models  providers.ModelMap
	secrets providers.SecretSource
	cred    *credentials.Credential
	logger  *slog.Logger

	mu sync.Mutex
	// next is the account index the next refresh starts from.
	next int
}

var _ providers.Adapter = (*Adapter)(nil)

// New builds the adapter.
func New(cfg Config, deps Deps) (*Adapter, error) {
	if cfg.AccountsSecret == "" {
		return nil, &providers.ConfigError{Provider: Name, Field: "accounts_secret", Message: "an accounts secret is required"}
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

// Credential returns the account credential.
func (a *Adapter) Credential() *credentials.Credential { return a.cred }

func (a *Adapter) accounts(ctx context.Context) ([]Account, error) {
	raw, err := a.secrets.GetSecret(ctx, a.cfg.AccountsSecret)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	var list []Account
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	if len(list) == 0 {
		return nil, &providers.AuthError{Provider: Name, Message: "no accounts configured"}
	}
	return list, nil
}

// refresh selects the next funded account, starting after the one used
// last, and resolves its model ids.
func (a *Adapter) refresh(ctx context.Context) (credentials.Secret, error) {
	list, err := a.accounts(ctx)
	if err != nil {
		return credentials.Secret{}, err
	}

	a.mu.Lock()
	start := a.next % len(list)
	a.mu.Unlock()

	var lastErr error
	for i := range list {
		idx := (start + i) % len(list)
		acct := list[idx]

		balance, err := a.balance(ctx, acct)
		if err != nil {
			if !providers.IsAuth(err) {
				return credentials.Secret{}, err
			}
			lastErr = err
			continue
		}
		if balance <= 0 {
			a.logger.Warn("account out of funds, rotating", "organization_id", acct.OrganizationID)
			continue
		}

		secret := credentials.Secret{
			Token: acct.APIKey,
			Extra: map[string]string{extraOrg: acct.OrganizationID},
		}
		if err := a.resolveModels(ctx, secret); err != nil {
			return credentials.Secret{}, err
		}

		a.mu.Lock()
		a.next = idx + 1
		a.mu.Unlock()
		a.logger.Info("selected account", "organization_id", acct.OrganizationID, "balance", balance)
		return secret, nil
	}

	if lastErr != nil {
		return credentials.Secret{}, lastErr
	}
	return credentials.Secret{}, &providers.AuthError{Provider: Name, Message: "all accounts are out of funds"}
}

func (a *Adapter) headers(secret credentials.Secret) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+secret.Token)
	return h
}

func (a *Adapter) balance(ctx context.Context, acct Account) (float64, error) {
	var resp struct {
		Data struct {
			Balance json.RawMessage `json:"balance"`
		} `json:"data"`
	}
	u := a.URL("/organization/balance?org_id=" + url.QueryEscape(acct.OrganizationID))
	if err := a.DoJSON(ctx, http.MethodGet, u, nil, &resp, a.headers(credentials.Secret{Token: acct.APIKey})); err != nil {
		return 0, err
	}
	// The balance is sent either as a number or as a decimal string.
	v, err := strconv.ParseFloat(strings.Trim(string(resp.Data.Balance), `"`), 64)
	if err != nil {
		return 0, &providers.ParseError{Provider: Name, RawResponse: string(resp.Data.Balance), Cause: err}
	}
	return v, nil
}

// resolveModels stores the backend id of every served model in
// secret.Extra.
func (a *Adapter) resolveModels(ctx context.Context, secret credentials.Secret) error {
	var resp struct {
		Data []struct {
			ModelName string `json:"model_name"`
			ModelID   string `json:"model_id"`
		} `json:"data"`
	}
	if err := a.DoJSON(ctx, http.MethodGet, a.URL("/chat_models"), nil, &resp, a.headers(secret)); err != nil {
		return err
	}

	byName := make(map[string]string, len(resp.Data))
	for _, m := range resp.Data {
		byName[m.ModelName] = m.ModelID
	}
	for id, name := range a.models {
		if modelID, ok := byName[name]; ok {
			secret.Extra[extraModelPrefix+id] = modelID
		}
	}
	return nil
}

type modelParams struct {
	SystemPrompt     string  `json:"system_prompt"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty string  `json:"frequency_penalty"`
	PresencePenalty  string  `json:"presence_penalty"`
	LongTermMemory   string  `json:"long_term_memory"`
}

type conversationRequest struct {
	Text        string      `json:"text"`
	Model       string      `json:"model"`
	Functions   []any       `json:"functions"`
	Attachments []any       `json:"attachments"`
	ModelParams modelParams `json:"model_params"`
}

// Prepare builds the conversation request for the selected account.
func (a *Adapter) Prepare(ctx context.Context, req *canonical.Request) (raw *providers.RawRequest, err error) {
	if _, err := a.models.Resolve(Name, req.Model); err != nil {
		return nil, err
	}
	if err := providers.TextOnly(Name, req.Messages); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "theb.prepare",
		attribute.String(tracing.AttrBackend, Name),
		attribute.String(tracing.AttrModel, req.Model),
	)
	defer func() { tracing.End(span, err) }()

	secret, err := a.cred.Get(ctx)
	if err != nil {
		return nil, err
	}

	modelID := secret.Extra[extraModelPrefix+req.Model]
	if modelID == "" {
		return nil, &providers.UpstreamError{Provider: Name, Detail: fmt.Sprintf("model %q is not offered to this account", req.Model)}
	}

	params := modelParams{
		SystemPrompt:     req.SystemPrompt(),
		Temperature:      0.5,
		TopP:             1,
		FrequencyPenalty: "0",
		PresencePenalty:  "0",
		LongTermMemory:   "ltm",
	}
	if params.SystemPrompt == "" {
		params.SystemPrompt = historyPrompt
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}

	q := url.Values{}
	q.Set("org_id", secret.Extra[extraOrg])
	q.Set("req_rand", strconv.FormatFloat(rand.Float64(), 'f', -1, 64))

	return &providers.RawRequest{
		Model:  modelID,
		Method: http.MethodPost,
		URL:    a.URL("/conversation?" + q.Encode()),
		Header: a.headers(secret),
		Body: conversationRequest{
			Text:        providers.Transcript(req.Messages, false),
			Model:       modelID,
			Functions:   []any{},
			Attachments: []any{},
			ModelParams: params,
		},
		Generation: secret.Generation,
	}, nil
}

// Execute performs the conversation call. A rejection demanding a minimum
// balance is reported as an auth failure so the next account is tried.
func (a *Adapter) Execute(ctx context.Context, raw *providers.RawRequest) (*providers.RawStream, error) {
	resp, err := a.DoStream(ctx, raw.Method, raw.URL, raw.Body, raw.Header)
	if err != nil {
		return nil, providers.StampGeneration(insufficientBalance(err), raw.Generation)
	}
	return &providers.RawStream{
		Body:    resp.Body,
		Framing: stream.FramingSSE,
		Decoder: NewDecoder(),
	}, nil
}

func insufficientBalance(err error) error {
	var up *providers.UpstreamError
	if !errors.As(err, &up) || !strings.Contains(strings.ToLower(up.Detail), "balance") {
		return err
	}
	return &providers.AuthError{Provider: Name, StatusCode: up.StatusCode, Message: up.Detail}
}
