package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNotConnected reports that there is no login to restore.
var ErrNotConnected = errors.New("not connected")

// Session holds the connection state for one process run and a cache of access
// tokens keyed by resource (the scheme and host of the API being called, such as
// https://contoso.sharepoint.com).
type Session struct {
	mu        sync.Mutex
	connected bool
	authType  TokenType
	tokens    map[string]*ExtendedToken

	oauthCfg *oauth2.Config
	ccCfg    *clientcredentials.Config
	store    *Store
	log      *slog.Logger
}

// NewSession creates a disconnected Session. Either of the oauth configurations may be
// nil if that login flow is not in use.
func NewSession(oauthCfg *oauth2.Config, ccCfg *clientcredentials.Config, store *Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		tokens:   map[string]*ExtendedToken{},
		oauthCfg: oauthCfg,
		ccCfg:    ccCfg,
		store:    store,
		log:      logger,
	}
}

// Restore loads a previous login from the token store. A missing store leaves the
// session disconnected without error.
func (s *Session) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	authType, tokens, err := s.store.Load()
	if errors.Is(err, ErrNoTokens) {
		return nil
	}
	if err != nil {
		return err
	}
	if authType == NoneToken || len(tokens) == 0 {
		return nil
	}
	s.authType = authType
	s.tokens = tokens
	s.connected = true
	s.log.Debug(fmt.Sprintf("Restore: restored %s session with %d tokens", authType, len(tokens)))
	return nil
}

// Connect records a newly acquired token and persists the session.
func (s *Session) Connect(et *ExtendedToken) error {
	if et == nil {
		return errors.New("nil token provided to Connect")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authType = et.Type
	s.tokens = map[string]*ExtendedToken{et.Resource: et}
	s.connected = true
	return s.save()
}

// Disconnect clears the session and removes the persisted tokens.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.authType = NoneToken
	s.tokens = map[string]*ExtendedToken{}
	if s.store == nil {
		return nil
	}
	return s.store.Delete()
}

// Connected reports whether a login is available.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// AuthType reports the kind of login held by the session.
func (s *Session) AuthType() TokenType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authType
}

// Resources lists the resources for which tokens are cached.
func (s *Session) Resources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	resources := make([]string, 0, len(s.tokens))
	for r := range s.tokens {
		resources = append(resources, r)
	}
	return resources
}

// AccessToken returns a valid access token for resource, reusing the cached token
// where possible and otherwise refreshing or acquiring one.
func (s *Session) AccessToken(ctx context.Context, resource string) (string, error) {
	resource = strings.TrimRight(resource, "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", ErrNotConnected
	}

	et, ok := s.tokens[resource]
	if ok && et.Token.Valid() {
		return et.Token.AccessToken, nil
	}

	var err error
	switch s.authType {
	case AppOnlyToken:
		et, err = s.appOnlyToken(ctx, resource)
	case DelegatedToken:
		et, err = s.delegatedToken(ctx, resource, et)
	default:
		err = fmt.Errorf("unknown token type %s", s.authType)
	}
	if err != nil {
		s.log.Error(fmt.Sprintf("AccessToken: %s: %v", resource, err))
		return "", err
	}

	s.tokens[resource] = et
	if err := s.save(); err != nil {
		s.log.Warn(fmt.Sprintf("AccessToken: could not save token cache: %v", err))
	}
	return et.Token.AccessToken, nil
}

// appOnlyToken acquires a client credentials token scoped to resource.
func (s *Session) appOnlyToken(ctx context.Context, resource string) (*ExtendedToken, error) {
	if s.ccCfg == nil {
		return nil, errors.New("no client credentials configuration available")
	}
	cc := *s.ccCfg
	cc.Scopes = []string{resource + "/.default"}
	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not acquire app-only token: %w", err)
	}
	return NewExtendedToken(AppOnlyToken, resource, tok)
}

// delegatedToken refreshes the cached token for resource or, when there is none yet,
// exchanges any held refresh token for a token scoped to resource.
func (s *Session) delegatedToken(ctx context.Context, resource string, current *ExtendedToken) (*ExtendedToken, error) {
	if s.oauthCfg == nil {
		return nil, errors.New("no oauth2 configuration available")
	}

	// The refresh grant made by oauth2.TokenSource carries no scope, so it only serves
	// the resource the login was made for.
	if current != nil && current.Token.RefreshToken != "" && s.loginResource(resource) {
		if _, err := current.ReuseOrRefresh(ctx, s.oauthCfg); err != nil {
			return nil, err
		}
		return current, nil
	}

	refreshToken := ""
	if current != nil && current.Token != nil {
		refreshToken = current.Token.RefreshToken
	}
	if refreshToken == "" {
		refreshToken = s.anyRefreshToken()
	}
	if refreshToken == "" {
		return nil, ErrNewLoginRequired
	}
	// a refresh_token grant with a scope, sent without the code or redirect_uri of
	// an authorization code exchange
	grant := &clientcredentials.Config{
		ClientID:     s.oauthCfg.ClientID,
		ClientSecret: s.oauthCfg.ClientSecret,
		TokenURL:     s.oauthCfg.Endpoint.TokenURL,
		AuthStyle:    s.oauthCfg.Endpoint.AuthStyle,
		Scopes:       []string{resource + "/.default", "offline_access"},
		EndpointParams: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {refreshToken},
		},
	}
	tok, err := grant.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not exchange refresh token for %s: %w", resource, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return NewExtendedToken(DelegatedToken, resource, tok)
}

func (s *Session) loginResource(resource string) bool {
	for _, scope := range s.oauthCfg.Scopes {
		if scope == resource+"/.default" {
			return true
		}
	}
	return false
}

func (s *Session) anyRefreshToken() string {
	for _, et := range s.tokens {
		if et != nil && et.Token != nil && et.Token.RefreshToken != "" {
			return et.Token.RefreshToken
		}
	}
	return ""
}

func (s *Session) save() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(s.authType, s.tokens)
}
