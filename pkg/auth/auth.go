// Package auth provides OAuth2 authorization for the amoCRM API.
// It loads a cached token pair from a TokenStore, falls back to a one-time
// authorization code exchange, and persists every refreshed token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

// ErrAuthorizationRequired is returned when there is no usable token and no code to exchange.
var ErrAuthorizationRequired = errors.New("no stored token and no authorization code configured")

// AuthURL is the amoCRM consent page used to obtain an authorization code.
const AuthURL = "https://www.amocrm.ru/oauth"

// Credentials holds the integration settings from the local configuration.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	Domain         string
	Code           string // one-time authorization code
	LongLivedToken string // optional long-lived access token, bypasses OAuth
}

// NewOAuthConfig creates the OAuth2 config for an amoCRM account.
// baseURL is the account URL, e.g. https://example.amocrm.ru.
func NewOAuthConfig(creds Credentials, baseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  strings.TrimRight(baseURL, "/") + "/oauth2/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// CodeExchanger turns an authorization code into a token. *oauth2.Config implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// RefreshObserver is notified whenever a new access token is issued.
type RefreshObserver interface {
	TokenRefreshed(ctx context.Context, rec *TokenRecord) error
}

// Authorizer produces an authorized HTTP client.
type Authorizer struct {
	OAuth          *oauth2.Config
	Store          TokenStore
	Exchanger      CodeExchanger // defaults to OAuth
	Code           string
	LongLivedToken string
	Logger         *slog.Logger
}

// NewAuthorizer builds an Authorizer from credentials.
func NewAuthorizer(creds Credentials, baseURL string, store TokenStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := NewOAuthConfig(creds, baseURL)
	return &Authorizer{
		OAuth:          cfg,
		Store:          store,
		Exchanger:      cfg,
		Code:           creds.Code,
		LongLivedToken: creds.LongLivedToken,
		Logger:         logger,
	}
}

// Authorize returns an HTTP client that adds the bearer token to requests.
// Sources are checked in order:
// 1. Long-lived token from configuration
// 2. Cached token from the store (refreshed and re-saved as needed)
// 3. One-time exchange of the configured authorization code
func (a *Authorizer) Authorize(ctx context.Context) (*http.Client, error) {
	if a.LongLivedToken != "" {
		a.Logger.Debug("using long-lived access token")
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.LongLivedToken, TokenType: "Bearer"})
		return oauth2.NewClient(ctx, src), nil
	}

	rec, err := a.Store.Load(ctx)
	if err != nil {
		a.Logger.Info("no usable cached token, falling back to authorization code", "error", err)
		rec, err = a.exchangeCode(ctx)
		if err != nil {
			return nil, err
		}
	}

	return a.clientFor(ctx, rec), nil
}

// ExchangeCode exchanges code and saves the resulting token.
func (a *Authorizer) ExchangeCode(ctx context.Context, code string) (*TokenRecord, error) {
	exchanger := a.Exchanger
	if exchanger == nil {
		exchanger = a.OAuth
	}

	tok, err := exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rec := RecordFromToken(tok)
	if err := a.Store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	a.Logger.Info("authorization code exchanged, token saved")
	return rec, nil
}

func (a *Authorizer) exchangeCode(ctx context.Context) (*TokenRecord, error) {
	if a.Code == "" {
		return nil, ErrAuthorizationRequired
	}
	return a.ExchangeCode(ctx, a.Code)
}

func (a *Authorizer) clientFor(ctx context.Context, rec *TokenRecord) *http.Client {
	tok := rec.OAuth2Token()
	src := NewNotifyingTokenSource(ctx, a.OAuth.TokenSource(ctx, tok), tok, a, a.Logger)
	return oauth2.NewClient(ctx, src)
}

// TokenRefreshed persists a refreshed token; it makes Authorizer its own RefreshObserver.
func (a *Authorizer) TokenRefreshed(ctx context.Context, rec *TokenRecord) error {
	a.Logger.Info("access token refreshed, saving")
	return a.Store.Save(ctx, rec)
}

// notifyingTokenSource reports every newly issued token to an observer.
type notifyingTokenSource struct {
	ctx      context.Context
	base     oauth2.TokenSource
	observer RefreshObserver
	logger   *slog.Logger

	mu   sync.Mutex
	last string
}

// NewNotifyingTokenSource wraps base so that observer sees each token different from current.
// Failures to persist a token are logged to logger.
func NewNotifyingTokenSource(ctx context.Context, base oauth2.TokenSource, current *oauth2.Token, observer RefreshObserver, logger *slog.Logger) oauth2.TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &notifyingTokenSource{ctx: ctx, base: base, observer: observer, logger: logger}
	if current != nil {
		s.last = current.AccessToken
	}
	return s
}

// Token implements oauth2.TokenSource.
func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken

	if err := s.observer.TokenRefreshed(s.ctx, RecordFromToken(tok)); err != nil {
		// The token is still usable for this run even if it could not be persisted
		s.logger.Warn("unable to save refreshed token", "error", err)
	}
	return tok, nil
}
