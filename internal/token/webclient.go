package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/schema"
	"golang.org/x/oauth2"
)

// ErrNewLoginRequired reports that a new login is required.
var ErrNewLoginRequired = errors.New("new login required")

// ValueStorer is an interface for storing values. Typically this will be implemented
// by a session store such as `github.com/alexedwards/scs/v2`. Note that with scs custom
// types such as token.ExtendedToken need to registered with gob.
type ValueStorer interface {
	Put(ctx context.Context, key string, val any)
	Remove(ctx context.Context, key string)
	GetString(ctx context.Context, key string) string
}

// WebServerError is an interface for raising web server errors.
type WebServerError interface {
	ServerError(w http.ResponseWriter, r *http.Request, errs ...error)
}

// callbackQuery is the query sent by the identity platform to the redirect url.
type callbackQuery struct {
	State            string `schema:"state"`
	Code             string `schema:"code"`
	Error            string `schema:"error"`
	ErrorDescription string `schema:"error_description"`
	SessionState     string `schema:"session_state"`
}

var callbackDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// TokenWebClient is a type for providing OAuth2 web handlers as clients to the
// Microsoft identity platform.
type TokenWebClient struct {
	resource  string
	oauthCfg  *oauth2.Config
	vs        ValueStorer
	errLogger WebServerError
	redirURL  string
	onToken   func(ctx context.Context, et *ExtendedToken) error
}

// NewTokenWebClient creates a new TokenWebClient. onToken, if not nil, is called with
// each token received.
func NewTokenWebClient(
	resource string,
	oauthCfg *oauth2.Config,
	vs ValueStorer,
	errLogger WebServerError,
	redirURL string, // eg "/done"
	onToken func(ctx context.Context, et *ExtendedToken) error,
) (*TokenWebClient, error) {
	if resource == "" {
		return nil, errors.New("empty resource provided to NewTokenWebClient")
	}
	if oauthCfg == nil {
		return nil, errors.New("nil oauthCfg provided to NewTokenWebClient")
	}
	if vs == nil {
		return nil, errors.New("nil ValueStorer (session) provided to NewTokenWebClient")
	}
	if errLogger == nil {
		return nil, errors.New("nil WebServerError provided to NewTokenWebClient")
	}
	if redirURL == "" {
		return nil, errors.New("empty redirection URL provided")
	}
	return &TokenWebClient{
		resource:  resource,
		oauthCfg:  oauthCfg,
		vs:        vs,
		errLogger: errLogger,
		redirURL:  redirURL,
		onToken:   onToken,
	}, nil
}

func (twc *TokenWebClient) stateKey() string {
	return fmt.Sprintf("%s-%s", DelegatedToken, "state")
}

func (twc *TokenWebClient) verifierKey() string {
	return fmt.Sprintf("%s-%s", DelegatedToken, "verifier")
}

// SessionKey is the ValueStorer key under which the received token is saved.
func (twc *TokenWebClient) SessionKey() string {
	return fmt.Sprintf("%s-%s", DelegatedToken, "session")
}

// InitiateWebLogin is an http.Handler for starting the authorization code flow. A
// random state and a PKCE verifier are saved to the ValueStorer before redirecting to
// the authorization endpoint.
func (twc *TokenWebClient) InitiateWebLogin() http.Handler {

	if twc == nil {
		panic("TokenWebClient nil at InitiateWebLogin")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Generate random state.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			twc.errLogger.ServerError(w, r, errors.New("failed to generate state"))
			return
		}
		state := base64.URLEncoding.EncodeToString(b)
		twc.vs.Put(ctx, twc.stateKey(), state)

		verifier := oauth2.GenerateVerifier()
		twc.vs.Put(ctx, twc.verifierKey(), verifier)

		authURL := twc.oauthCfg.AuthCodeURL(
			state,
			oauth2.AccessTypeOffline,
			oauth2.S256ChallengeOption(verifier),
		)
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	})
}

// WebLoginCallBack is an http.Handler for receiving a web callback initiated from a web
// interface with PKCE protection.
func (twc *TokenWebClient) WebLoginCallBack() http.Handler {

	if twc == nil {
		panic("TokenWebClient nil at WebLoginCallBack")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var q callbackQuery
		if err := callbackDecoder.Decode(&q, r.URL.Query()); err != nil {
			twc.errLogger.ServerError(w, r, fmt.Errorf("could not decode callback query: %w", err))
			return
		}
		if q.Error != "" {
			twc.errLogger.ServerError(w, r, fmt.Errorf("login failed: %s: %s", q.Error, q.ErrorDescription))
			return
		}

		// Retrieve the state (CSRF protection) from the session and then check it
		// matches the state returned by the platform in the incoming url.
		state := twc.vs.GetString(ctx, twc.stateKey())
		if state == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing 'state' in session"))
			return
		}
		twc.vs.Remove(ctx, twc.stateKey())

		if q.State == "" || q.State != state {
			twc.errLogger.ServerError(w, r, errors.New("missing oauth 'state' in platform response"))
			return
		}

		verifier := twc.vs.GetString(ctx, twc.verifierKey())
		if verifier == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing pkce 'verifier' in session"))
			return
		}
		twc.vs.Remove(ctx, twc.verifierKey())

		if q.Code == "" {
			twc.errLogger.ServerError(w, r, errors.New("missing 'code' in platform response"))
			return
		}

		tok, err := twc.oauthCfg.Exchange(ctx, q.Code, oauth2.VerifierOption(verifier))
		if err != nil {
			twc.errLogger.ServerError(w, r, fmt.Errorf("token exchange failed: %w", err))
			return
		}

		et, err := NewExtendedToken(DelegatedToken, twc.resource, tok)
		if err != nil {
			twc.errLogger.ServerError(w, r, fmt.Errorf("token registration error: %w", err))
			return
		}
		twc.vs.Put(ctx, twc.SessionKey(), *et)

		if twc.onToken != nil {
			if err := twc.onToken(ctx, et); err != nil {
				twc.errLogger.ServerError(w, r, fmt.Errorf("token could not be saved: %w", err))
				return
			}
		}

		http.Redirect(w, r, twc.redirURL, http.StatusSeeOther)
	})
}
