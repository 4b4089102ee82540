package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faceteller/faceteller/pkg/session"
	"github.com/faceteller/faceteller/pkg/store"
	"github.com/faceteller/faceteller/pkg/token"
)

// writeJSON is the common success/error body writer.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// currentUser resolves the authenticated username from the cookie session,
// or "" when the request carries no valid login.
func (s *Server) currentUser(r *http.Request) string {
	sess, err := s.cookies.Get(r, sessionCookie)
	if err != nil {
		return ""
	}
	username, _ := sess.Values["username"].(string)
	return username
}

// handleConfirmLogin redeems a single-use login token minted by the
// biometric flow and binds the username to a cookie session. The token is
// consumed even when redemption fails, so a replayed link always lands on
// the failure page.
func (s *Server) handleConfirmLogin(w http.ResponseWriter, r *http.Request) {
	value := chi.URLParam(r, "token")

	username, err := s.tokens.Redeem(value)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, token.ErrTokenExpired) {
			reason = "token_expired"
		}
		s.log.WithField("reason", reason).Info("login token rejected")
		http.Redirect(w, r, "/login_failed?reason="+reason, http.StatusSeeOther)
		return
	}

	sess, _ := s.cookies.Get(r, sessionCookie)
	sess.Values["username"] = username
	if err := sess.Save(r, w); err != nil {
		s.log.WithError(err).Error("failed to persist cookie session")
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}

	s.log.WithField("user", username).Info("login token redeemed")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleDashboard returns the authenticated user's account view.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	username := s.currentUser(r)
	if username == "" {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	id, err := s.store.Get(username)
	if err != nil {
		// The cookie outlived the account.
		writeError(w, http.StatusUnauthorized, "unknown account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": id.Username,
		"balance":  id.Balance,
	})
}

// handleWithdraw debits the authenticated user's balance.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	username := s.currentUser(r)
	if username == "" {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("amount")), 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	id, err := s.store.Get(username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown account")
		return
	}
	if amount > id.Balance {
		writeError(w, http.StatusBadRequest, "insufficient funds")
		return
	}

	balance := id.Balance - amount
	if err := s.store.UpdateBalance(username, balance); err != nil {
		s.log.WithError(err).Error("balance update failed")
		writeError(w, http.StatusInternalServerError, "could not update balance")
		return
	}

	s.log.WithField("user", username).Infof("withdrew %.2f", amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": username,
		"balance":  balance,
	})
}

// handleAddUser creates the account record for a username whose face
// capture was already persisted through the enrollment flow.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	pin := strings.TrimSpace(r.FormValue("pin"))
	balanceField := strings.TrimSpace(r.FormValue("balance"))

	if !session.ValidUsername(username) {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}
	if !validPIN(pin, s.cfg.PIN.Length) {
		writeError(w, http.StatusBadRequest, "pin must be exactly "+strconv.Itoa(s.cfg.PIN.Length)+" digits")
		return
	}

	balance := 0.0
	if balanceField != "" {
		var err error
		balance, err = strconv.ParseFloat(balanceField, 64)
		if err != nil || balance < 0 {
			writeError(w, http.StatusBadRequest, "balance must be a non-negative number")
			return
		}
	}

	if err := s.store.AddIdentity(username, pin, balance); err != nil {
		switch {
		case errors.Is(err, store.ErrUserExists):
			writeError(w, http.StatusConflict, "username already exists")
		case errors.Is(err, store.ErrNoEnrollment):
			writeError(w, http.StatusBadRequest, "no face enrollment for user, capture a face first")
		default:
			s.log.WithError(err).Error("add user failed")
			writeError(w, http.StatusInternalServerError, "could not create user")
		}
		return
	}

	s.log.WithField("user", username).Info("user created")
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

// handleLogout clears the cookie session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.cookies.Get(r, sessionCookie)
	delete(sess.Values, "username")
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validPIN reports whether p is exactly length decimal digits.
func validPIN(p string, length int) bool {
	if len(p) != length {
		return false
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
