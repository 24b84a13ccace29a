package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"schemedesk/api/internal/authpw"
	"schemedesk/api/internal/metrics"
)

type route struct {
	method string
	path   string
}

// publicRoutes are served without a session.
func (s *HTTPServer) publicRoutes() map[route]http.HandlerFunc {
	scrape := metrics.Handler()
	routes := map[route]http.HandlerFunc{
		{http.MethodGet, "/metrics"}:              scrape.ServeHTTP,
		{http.MethodPost, "/api/auth/signup"}:     s.handleAuthSignUp,
		{http.MethodPost, "/api/auth/signin"}:     s.handleAuthSignIn,
		{http.MethodGet, "/api/session"}:          s.handleSession,
		{http.MethodPost, "/api/session/refresh"}: s.handleRefresh,
		{http.MethodPost, "/api/session/logout"}:  s.handleLogout,
	}
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		routes[route{method, "/api/health"}] = s.handleHealth
		routes[route{method, "/api/ready"}] = s.handleReady
	}
	return routes
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.Ready(ctx)
	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, code, map[string]any{"ok": ready, "status": status, "checks": checks})
}

// handleSession reports who the bearer token belongs to. A missing or bad
// token is an anonymous answer, not an error.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	anonymous := map[string]any{"authenticated": false, "userName": nil}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"role":          session.Role,
	})
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSession(w, http.StatusOK, session)
}

// handleLogout always answers ok; whatever can be revoked is.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var session Session
	if token := bearerToken(r); token != "" {
		if current, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = current
		}
	}
	var body refreshBody
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.logger.Warn("logout", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSession(w, http.StatusCreated, session)
}

// handleAuthSignIn answers malformed input the same way as a wrong password.
func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	var inputErr *authpw.InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case err != nil:
		s.fail(w, r, err)
	default:
		s.logger.Debug("signed in", zap.String("user_id", session.UserID))
		writeSession(w, http.StatusOK, session)
	}
}
