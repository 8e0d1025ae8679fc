// Package auth resolves provider credentials: OAuth device-code tokens,
// API keys, and local-engine reachability.
package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const refreshBuffer = 1 * time.Hour

// credentials is the on-disk shape persisted for an OAuth-backed provider.
type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	Provider     string `json:"provider"`
}

// deviceCodeFlow holds the endpoints and client configuration for a single
// OAuth device-code provider. OpenAI and Gemini both speak a variant of this
// flow; the struct's fields capture the shape differences between them.
type deviceCodeFlow struct {
	provider       string
	authFile       string
	client         *http.Client
	pollInterval   time.Duration
	pollTimeout    time.Duration
	requestDevice  func(*deviceCodeFlow) (deviceCodeResponse, error)
	pollForTokens  func(*deviceCodeFlow, deviceCodeResponse) (credentials, error)
	refreshTokens  func(*deviceCodeFlow, credentials) (credentials, error)
	verificationURL func(deviceCodeResponse) string
}

type deviceCodeResponse struct {
	UserCode      string
	DeviceAuthID  string
	IntervalSecs  int
	VerifyURI     string
	VerifyURIFull string
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func (f *deviceCodeFlow) readCredentials() (*credentials, error) {
	data, err := os.ReadFile(f.authFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.authFile, err)
	}
	return &c, nil
}

func (f *deviceCodeFlow) writeCredentials(c credentials) error {
	if err := os.MkdirAll(filepath.Dir(f.authFile), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.authFile, data, 0600)
}

func (f *deviceCodeFlow) deleteCredentials() error {
	err := os.Remove(f.authFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func tokenExpiresSoon(expiresAt string) bool {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return true
	}
	return !t.After(time.Now().Add(refreshBuffer))
}

func tokenIsExpired(expiresAt string) bool {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return true
	}
	return !t.After(time.Now())
}

// decodeJWTExpiry best-effort decodes the exp claim of a JWT access token.
func decodeJWTExpiry(accessToken string) (time.Time, bool) {
	parts := strings.Split(accessToken, ".")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	payload := parts[1]
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(decoded, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(claims.Exp), 0).UTC(), true
}

// isLoggedIn reports whether stored credentials exist and have not expired.
func (f *deviceCodeFlow) isLoggedIn() bool {
	c, err := f.readCredentials()
	if err != nil || c == nil {
		return false
	}
	return c.AccessToken != "" && !tokenIsExpired(c.ExpiresAt)
}

// getToken returns a valid access token, refreshing it first if it is near
// expiry. Returns "" if the provider has never been logged in or refresh
// fails.
func (f *deviceCodeFlow) getToken() string {
	c, err := f.readCredentials()
	if err != nil || c == nil {
		return ""
	}
	if tokenExpiresSoon(c.ExpiresAt) {
		refreshed, err := f.refreshTokens(f, *c)
		if err != nil {
			return ""
		}
		return refreshed.AccessToken
	}
	return c.AccessToken
}

// login runs the device-code flow end to end and persists the resulting
// credentials, returning the new access token. The verification URL and
// user code are passed to onPrompt (when non-nil) so the caller (the CLI)
// can render a prompt before login blocks on the poll.
func (f *deviceCodeFlow) login(onPrompt func(verificationURL, userCode string)) (string, error) {
	dev, err := f.requestDevice(f)
	if err != nil {
		return "", fmt.Errorf("request device code: %w", err)
	}
	if dev.UserCode == "" {
		return "", fmt.Errorf("device code response missing user_code")
	}

	verifyURL := dev.VerifyURIFull
	if verifyURL == "" {
		verifyURL = f.verificationURL(dev)
	}
	if onPrompt != nil {
		onPrompt(verifyURL, dev.UserCode)
	}

	c, err := f.pollForTokens(f, dev)
	if err != nil {
		return "", err
	}
	if err := f.writeCredentials(c); err != nil {
		return "", fmt.Errorf("save credentials: %w", err)
	}
	return c.AccessToken, nil
}

func postForm(client *http.Client, rawURL string, values url.Values) (*http.Response, error) {
	return client.Post(rawURL, "application/x-www-form-urlencoded", bytes.NewBufferString(values.Encode()))
}

func postJSON(client *http.Client, rawURL string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return client.Post(rawURL, "application/json", bytes.NewReader(data))
}
