// Package login runs a short lived local web server for the browser login flow.
//
// The user opens /login, which redirects to the Microsoft identity platform. The
// platform redirects back to the callback path with an authorization code, which is
// exchanged (with PKCE) for a token. The user is then sent to /done.
package login

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"m365cli/internal/token"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"
)

// DefaultTimeout is how long Login waits for the user.
const DefaultTimeout = 2 * time.Minute

func init() {
	gob.Register(token.ExtendedToken{})
}

// Server is the local login web server.
type Server struct {
	listenAddress string
	callbackPath  string
	resource      string
	oauthCfg      *oauth2.Config
	log           *slog.Logger
	accessLog     io.Writer
	sessions      *scs.SessionManager
	tokens        chan *token.ExtendedToken
	errs          chan error
}

// New initialises a Server. accessLog receives the request log and may be nil.
func New(
	listenAddress string,
	callbackPath string,
	resource string,
	oauthCfg *oauth2.Config,
	logger *slog.Logger,
	accessLog io.Writer,
) (*Server, error) {
	if oauthCfg == nil {
		return nil, errors.New("nil oauth2 configuration")
	}
	if listenAddress == "" || callbackPath == "" {
		return nil, errors.New("listen address and callback path are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if accessLog == nil {
		accessLog = io.Discard
	}

	sessions := scs.New()
	sessions.Lifetime = 10 * time.Minute
	sessions.Cookie.Name = "m365cli_login"
	sessions.Cookie.SameSite = http.SameSiteLaxMode

	return &Server{
		listenAddress: listenAddress,
		callbackPath:  callbackPath,
		resource:      resource,
		oauthCfg:      oauthCfg,
		log:           logger,
		accessLog:     accessLog,
		sessions:      sessions,
		tokens:        make(chan *token.ExtendedToken, 1),
		errs:          make(chan error, 1),
	}, nil
}

// Login serves the login endpoints until a token is received, the timeout passes or
// ctx is done. ready is called with the url the user should open.
func (s *Server) Login(ctx context.Context, timeout time.Duration, ready func(loginURL string)) (*token.ExtendedToken, error) {
	handler, err := s.routes()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %s: %w", s.listenAddress, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 19,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn(fmt.Sprintf("Login: failed to shut down server gracefully: %v", err))
		}
	}()

	loginURL := fmt.Sprintf("http://%s/login", ln.Addr().String())
	s.log.Debug(fmt.Sprintf("Login: serving on %s", ln.Addr()))
	if ready != nil {
		ready(loginURL)
	}

	select {
	case et := <-s.tokens:
		return et, nil
	case err := <-s.errs:
		return nil, err
	case err := <-serveErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, errors.New("authentication timed out")
	}
}

// routes connects the endpoints and middleware.
func (s *Server) routes() (http.Handler, error) {
	twc, err := token.NewTokenWebClient(
		s.resource,
		s.oauthCfg,
		s.sessions,
		s,
		"/done",
		s.receive,
	)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Handle("/login", twc.InitiateWebLogin()).Methods(http.MethodGet)
	r.Handle(s.callbackPath, twc.WebLoginCallBack()).Methods(http.MethodGet)
	r.Handle("/done", s.handleDone()).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(r)
	logging := handlers.LoggingHandler(s.accessLog, recovery)
	return s.sessions.LoadAndSave(logging), nil
}

// receive hands a token to Login.
func (s *Server) receive(ctx context.Context, et *token.ExtendedToken) error {
	select {
	case s.tokens <- et:
		return nil
	default:
		return errors.New("a token has already been received")
	}
}

// handleDone tells the user they can close the browser window.
func (s *Server) handleDone() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "Authorization successful! You can close this window.")
	})
}

// ServerError meets the token.WebServerError interface. The error ends the login.
func (s *Server) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	s.log.Error(err.Error(), "method", r.Method, "uri", r.URL.Path)
	select {
	case s.errs <- err:
	default:
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
