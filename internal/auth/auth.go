// Package auth handles operator sign-in via Google OAuth. Sessions are
// held in memory; the session email is the approver identity recorded
// on outreach decisions.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/pkg/logger"
)

// GoogleUserInfo represents the user info returned by Google.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	HD            string `json:"hd"` // hosted domain (Workspace domain)
}

// Session represents an authenticated operator session.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthManager runs the Google OAuth flow and tracks sessions.
type AuthManager struct {
	config       *config.AuthConfig
	oauth2Config *oauth2.Config
	sessions     map[string]*Session
	sessionMu    sync.RWMutex
	baseURL      string
	log          *logger.Logger
}

// NewAuthManager creates a new authentication manager.
func NewAuthManager(cfg *config.AuthConfig, baseURL string) *AuthManager {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  baseURL + "/auth/callback",
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	return &AuthManager{
		config:       cfg,
		oauth2Config: oauth2Config,
		sessions:     make(map[string]*Session),
		baseURL:      baseURL,
		log:          logger.Component("auth"),
	}
}

// generateState creates a random state string for OAuth.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// generateSessionID creates a random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin initiates the Google OAuth flow.
func (am *AuthManager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}

	// State lives in a short-lived cookie for callback verification.
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// The hd parameter restricts the account picker to the allowed domain.
	url := am.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOnline) + "&hd=" + am.config.AllowedDomain
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from Google.
func (am *AuthManager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil {
		am.log.Warn("callback without state cookie", "error", err)
		http.Redirect(w, r, "/?error=invalid_state", http.StatusTemporaryRedirect)
		return
	}

	if r.URL.Query().Get("state") != stateCookie.Value {
		am.log.Warn("state mismatch on callback")
		http.Redirect(w, r, "/?error=invalid_state", http.StatusTemporaryRedirect)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		am.log.Warn("provider returned error", "error", errMsg)
		http.Redirect(w, r, "/?error="+errMsg, http.StatusTemporaryRedirect)
		return
	}

	code := r.URL.Query().Get("code")
	token, err := am.oauth2Config.Exchange(context.Background(), code)
	if err != nil {
		am.log.Error("code exchange failed", "error", err)
		http.Redirect(w, r, "/?error=exchange_failed", http.StatusTemporaryRedirect)
		return
	}

	userInfo, err := am.getUserInfo(token.AccessToken)
	if err != nil {
		am.log.Error("user info fetch failed", "error", err)
		http.Redirect(w, r, "/?error=userinfo_failed", http.StatusTemporaryRedirect)
		return
	}

	// The hd parameter is only a UI hint; the domain check is enforced here.
	emailDomain := strings.Split(userInfo.Email, "@")
	if len(emailDomain) != 2 || emailDomain[1] != am.config.AllowedDomain {
		am.log.Warn("domain not allowed", "email", userInfo.Email, "allowed", am.config.AllowedDomain)
		http.Redirect(w, r, "/?error=domain_not_allowed", http.StatusTemporaryRedirect)
		return
	}

	sessionID, err := generateSessionID()
	if err != nil {
		am.log.Error("session id generation failed", "error", err)
		http.Redirect(w, r, "/?error=session_failed", http.StatusTemporaryRedirect)
		return
	}

	session := &Session{
		UserID:    userInfo.ID,
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		Picture:   userInfo.Picture,
		Domain:    userInfo.HD,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(am.config.CookieMaxAge) * time.Second),
	}

	am.sessionMu.Lock()
	am.sessions[sessionID] = session
	am.sessionMu.Unlock()

	am.log.Info("operator logged in", "email", userInfo.Email)

	http.SetCookie(w, &http.Cookie{
		Name:     am.config.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   am.config.CookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleLogout ends the operator session.
func (am *AuthManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(am.config.CookieName)
	if err == nil {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:   am.config.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// HandleUserInfo returns the current operator's info as JSON.
func (am *AuthManager) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	session := am.GetSession(r)
	if session == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": false,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"authenticated": true,
		"user": map[string]string{
			"id":      session.UserID,
			"email":   session.Email,
			"name":    session.Name,
			"picture": session.Picture,
			"domain":  session.Domain,
		},
	})
}

// GetSession returns the session for the request, or nil when not
// authenticated. Expired sessions are evicted on access.
func (am *AuthManager) GetSession(r *http.Request) *Session {
	cookie, err := r.Cookie(am.config.CookieName)
	if err != nil {
		return nil
	}

	am.sessionMu.RLock()
	session, exists := am.sessions[cookie.Value]
	am.sessionMu.RUnlock()

	if !exists {
		return nil
	}

	if time.Now().After(session.ExpiresAt) {
		am.sessionMu.Lock()
		delete(am.sessions, cookie.Value)
		am.sessionMu.Unlock()
		return nil
	}

	return session
}

// IsAuthenticated checks if the request carries a live session.
func (am *AuthManager) IsAuthenticated(r *http.Request) bool {
	return am.GetSession(r) != nil
}

// ApproverEmail returns the session email for attribution on approval
// decisions, or "" when the request is unauthenticated.
func (am *AuthManager) ApproverEmail(r *http.Request) string {
	session := am.GetSession(r)
	if session == nil {
		return ""
	}
	return session.Email
}

// getUserInfo fetches the user's profile from Google.
func (am *AuthManager) getUserInfo(accessToken string) (*GoogleUserInfo, error) {
	resp, err := http.Get("https://www.googleapis.com/oauth2/v2/userinfo?access_token=" + accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google API error: %s", string(body))
	}

	var userInfo GoogleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	return &userInfo, nil
}

// ValidateCredentials performs a lightweight check against Google's token
// endpoint to verify the OAuth client ID and secret are valid. This catches
// stale or rotated credentials at boot instead of at first operator login.
func (am *AuthManager) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// An invalid grant provokes a distinguishable error: Google returns
	// "invalid_client" for bad credentials vs "invalid_grant" for a bad code.
	vals := fmt.Sprintf("grant_type=authorization_code&code=validation_probe&client_id=%s&client_secret=%s&redirect_uri=%s",
		am.oauth2Config.ClientID, am.oauth2Config.ClientSecret, am.oauth2Config.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, "POST", google.Endpoint.TokenURL, strings.NewReader(vals))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	// "invalid_grant" or "invalid_request" means the client itself is fine
	// and only the probe code was rejected.
	if strings.Contains(bodyStr, "invalid_grant") || strings.Contains(bodyStr, "invalid_request") || strings.Contains(bodyStr, "redirect_uri_mismatch") {
		return nil
	}

	if strings.Contains(bodyStr, "invalid_client") {
		return fmt.Errorf("google OAuth credentials rejected (client_id or client_secret invalid)")
	}

	return fmt.Errorf("unexpected response from Google token endpoint (HTTP %d): %s", resp.StatusCode, bodyStr)
}

// CleanupExpiredSessions removes expired sessions periodically.
func (am *AuthManager) CleanupExpiredSessions() {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			am.sessionMu.Lock()
			now := time.Now()
			for id, session := range am.sessions {
				if now.After(session.ExpiresAt) {
					delete(am.sessions, id)
				}
			}
			am.sessionMu.Unlock()
		}
	}()
}
