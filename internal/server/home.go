package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Its-donkey/hello-near/internal/panel"
	"github.com/Its-donkey/hello-near/internal/wallet"
	"github.com/Its-donkey/hello-near/logging"
)

const expiredNotice = "Your session expired. Please sign in again."

type basePageData struct {
	PageTitle      string
	AppName        string
	StylesheetPath string
	NetworkLabel   string
	ContractID     string
	AccountID      string
	LoggedIn       bool
	Notice         string
	LoginError     string
	CurrentYear    int
}

type homePageData struct {
	basePageData
	Panel      panel.Snapshot
	EventsPath string
}

func (s *server) buildHomePage(snap panel.Snapshot) homePageData {
	return homePageData{
		basePageData: basePageData{
			PageTitle:      s.appName,
			AppName:        s.appName,
			StylesheetPath: "/styles.css",
			NetworkLabel:   networkLabel(s.network.ID),
			ContractID:     s.contractID,
			AccountID:      snap.AccountID,
			LoggedIn:       snap.LoggedIn,
			CurrentYear:    s.currentYear,
		},
		Panel:      snap,
		EventsPath: "/events",
	}
}

func (s *server) renderHome(w http.ResponseWriter, r *http.Request, status int, page homePageData) {
	tmpl, ok := s.templates["home"]
	if !ok {
		http.Error(w, "template missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base", page); err != nil {
		s.logger.Error(logging.CategoryHTTP, "render home failed", err, map[string]any{
			"request_id": logging.RequestIDFromContext(r.Context()),
		})
	}
}

func (s *server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	sess, expired, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	if !s.awaitLoaded(r.Context(), sess.Panel) {
		return
	}

	page := s.buildHomePage(sess.Panel.Snapshot())
	if expired {
		page.Notice = expiredNotice
	}
	s.renderHome(w, r, http.StatusOK, page)
}

func (s *server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if sess.Panel.LoggedIn() && s.awaitLoaded(r.Context(), sess.Panel) {
		s.submitDetached(r.Context(), sess.Panel, r.PostForm.Get("greeting"))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// awaitLoaded waits up to loadWait for the initial greeting read. It
// reports false only when the request itself went away.
func (s *server) awaitLoaded(ctx context.Context, p *panel.Panel) bool {
	timer := time.NewTimer(s.loadWait)
	defer timer.Stop()
	select {
	case <-p.Loaded():
	case <-timer.C:
	case <-ctx.Done():
		return false
	}
	return true
}

// submitDetached starts a submission that outlives the request and returns
// once the optimistic value is visible, so the redirected page shows it.
func (s *server) submitDetached(ctx context.Context, p *panel.Panel, greeting string) {
	updates := make(chan panel.Snapshot, 8)
	unsubscribe := p.Subscribe(updates)
	defer unsubscribe()
	before := p.Snapshot().Generation

	requestID := logging.RequestIDFromContext(ctx)
	s.submissions.Add(1)
	go func() {
		defer s.submissions.Done()
		out, err := p.Submit(context.WithoutCancel(ctx), greeting)
		lc := s.logger.WithRequestID(requestID).
			WithCategory(logging.CategoryPanel).
			WithField("generation", out.Generation).
			WithField("confirmed", out.Confirmed).
			WithField("superseded", out.Superseded)
		if err != nil {
			lc.Warn("detached submission failed")
			return
		}
		lc.Info("detached submission settled")
	}()

	timeout := time.NewTimer(time.Second)
	defer timeout.Stop()
	for {
		select {
		case snap := <-updates:
			if snap.Generation > before {
				return
			}
		case <-timeout.C:
			return
		}
	}
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	accountID := strings.TrimSpace(r.PostForm.Get("account_id"))
	if err := sess.Panel.SignIn(r.Context(), accountID); err != nil {
		status := http.StatusBadGateway
		message := "Sign in failed. Try again later."
		switch {
		case errors.Is(err, wallet.ErrInvalidAccountID):
			status = http.StatusUnprocessableEntity
			message = "That is not a valid account id."
		case errors.Is(err, wallet.ErrUnknownAccount):
			status = http.StatusUnprocessableEntity
			message = "No key is available for that account."
		}
		s.logger.WithRequestID(logging.RequestIDFromContext(r.Context())).
			WithCategory(logging.CategoryWallet).
			WithField("account", accountID).
			Warn("sign in rejected")
		page := s.buildHomePage(sess.Panel.Snapshot())
		page.LoginError = message
		s.renderHome(w, r, status, page)
		return
	}
	s.rememberAccount(w, accountID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	if err := sess.Panel.SignOut(r.Context()); err != nil {
		s.logger.Error(logging.CategoryWallet, "sign out failed", err, nil)
	}
	s.rememberAccount(w, "")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	sess, _, err := s.sessionFor(w, r)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	sess.Panel.ClearError()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
