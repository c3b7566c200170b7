// Package server serves the hello-near page, its JSON API and the snapshot
// event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/Its-donkey/hello-near/internal/config"
	"github.com/Its-donkey/hello-near/internal/session"
	"github.com/Its-donkey/hello-near/logging"
)

const (
	sessionCookieName = "hello_near_session"
	accountCookieName = "hello_near_account"
	accountCookieAge  = 30 * 24 * time.Hour
	defaultLoadWait   = time.Second
	defaultAppName    = "Hello NEAR"
)

// Options configures the HTTP server.
type Options struct {
	Listen     string
	AppName    string
	Network    config.Network
	ContractID string
	Sessions   *session.Store
	// TemplatesDir and AssetsDir override the embedded templates and styles.
	TemplatesDir  string
	AssetsDir     string
	SecureCookies bool
	// LoadWait bounds how long a first page render waits for the initial
	// greeting read.
	LoadWait time.Duration
	Logger   *logging.Logger
}

type server struct {
	appName       string
	network       config.Network
	contractID    string
	sessions      *session.Store
	templates     map[string]*template.Template
	assets        fs.FS
	secureCookies bool
	loadWait      time.Duration
	currentYear   int
	logger        *logging.Logger

	// submissions tracks submits detached from their request.
	submissions sync.WaitGroup
}

func newServer(opts Options) (*server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("server: session store is required")
	}
	tmpl, err := loadTemplates(opts.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	assets, err := staticFiles(opts.AssetsDir)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if opts.AppName == "" {
		opts.AppName = defaultAppName
	}
	if opts.LoadWait <= 0 {
		opts.LoadWait = defaultLoadWait
	}
	return &server{
		appName:       opts.AppName,
		network:       opts.Network,
		contractID:    opts.ContractID,
		sessions:      opts.Sessions,
		templates:     tmpl,
		assets:        assets,
		secureCookies: opts.SecureCookies,
		loadWait:      opts.LoadWait,
		currentYear:   time.Now().Year(),
		logger:        opts.Logger,
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/greeting", s.handleGreeting)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/error/dismiss", s.handleDismiss)
	mux.HandleFunc("/api/greeting", s.handleAPIGreeting)
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/styles.css", s.assetHandler("styles.css", "text/css; charset=utf-8"))
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return logging.NewHTTPLogger(s.logger, 0).Middleware(mux)
}

// NewHandler builds the full handler without binding a listener.
func NewHandler(opts Options) (http.Handler, error) {
	srv, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	return srv.routes(), nil
}

// Run serves until ctx is cancelled, then drains requests and detached
// submissions and closes every session.
func Run(ctx context.Context, opts Options) error {
	srv, err := newServer(opts)
	if err != nil {
		return err
	}
	listen := opts.Listen
	if listen == "" {
		listen = "127.0.0.1:8080"
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	srv.logger.Info(logging.CategoryGeneral, fmt.Sprintf("Serving %s on http://%s", srv.appName, listen), map[string]any{
		"network":  srv.network.ID,
		"contract": srv.contractID,
	})

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			srv.logger.Error(logging.CategoryGeneral, "http shutdown failed", err, nil)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	srv.submissions.Wait()
	srv.sessions.Close()
	return serveErr
}

func (s *server) assetHandler(name, contentType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(s.assets, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(data)
	})
}

// sessionFor returns the caller's session, creating one when the cookie is
// missing or no longer known. expired reports a cookie that outlived its
// session without the remembered account being restored.
func (s *server) sessionFor(w http.ResponseWriter, r *http.Request) (sess *session.Session, expired bool, err error) {
	hadCookie := false
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		hadCookie = true
		if sess, ok := s.sessions.Get(c.Value); ok {
			return sess, false, nil
		}
	}

	restore := ""
	if c, err := r.Cookie(accountCookieName); err == nil {
		restore = c.Value
	}
	sess, err = s.sessions.Create(r.Context(), restore)
	if err != nil {
		return nil, false, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, hadCookie && !sess.Panel.LoggedIn(), nil
}

func (s *server) rememberAccount(w http.ResponseWriter, accountID string) {
	cookie := &http.Cookie{
		Name:     accountCookieName,
		Value:    accountID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(accountCookieAge / time.Second),
	}
	if accountID == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(w, cookie)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	allow := methods[0]
	for _, m := range methods[1:] {
		allow += ", " + m
	}
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
