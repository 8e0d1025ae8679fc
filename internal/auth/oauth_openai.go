package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"
)

const (
	openaiIssuer            = "https://auth.openai.com"
	openaiClientID          = "app_EMoamEEZ73f0CkXaXp7hrann"
	openaiVerificationURL   = openaiIssuer + "/codex/device"
	openaiDeviceUserCodeURL = openaiIssuer + "/api/accounts/deviceauth/usercode"
	openaiDeviceTokenURL    = openaiIssuer + "/api/accounts/deviceauth/token"
	openaiTokenURL          = openaiIssuer + "/oauth/token"
	openaiDeviceRedirectURI = openaiIssuer + "/deviceauth/callback"

	openaiDefaultPollInterval = 5 * time.Second
	openaiDefaultPollTimeout  = 15 * time.Minute
)

func newOpenAIFlow(authDir string) *deviceCodeFlow {
	return &deviceCodeFlow{
		provider:      "openai",
		authFile:      filepath.Join(authDir, "openai.json"),
		client:        newHTTPClient(),
		pollInterval:  openaiDefaultPollInterval,
		pollTimeout:   openaiDefaultPollTimeout,
		requestDevice: openaiRequestDevice,
		pollForTokens: openaiPollForTokens,
		refreshTokens: openaiRefresh,
		verificationURL: func(deviceCodeResponse) string {
			return openaiVerificationURL
		},
	}
}

func openaiRequestDevice(f *deviceCodeFlow) (deviceCodeResponse, error) {
	resp, err := postJSON(f.client, openaiDeviceUserCodeURL, map[string]string{"client_id": openaiClientID})
	if err != nil {
		return deviceCodeResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return deviceCodeResponse{}, fmt.Errorf("device code request rejected: %s", resp.Status)
	}

	var payload struct {
		UserCode     string `json:"user_code"`
		DeviceAuthID string `json:"device_auth_id"`
		Interval     int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return deviceCodeResponse{}, fmt.Errorf("decode device code response: %w", err)
	}
	interval := payload.Interval
	if interval <= 0 {
		interval = int(openaiDefaultPollInterval.Seconds())
	}
	return deviceCodeResponse{
		UserCode:     payload.UserCode,
		DeviceAuthID: payload.DeviceAuthID,
		IntervalSecs: interval,
	}, nil
}

func openaiPollForTokens(f *deviceCodeFlow, dev deviceCodeResponse) (credentials, error) {
	interval := time.Duration(dev.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = openaiDefaultPollInterval
	}
	deadline := time.Now().Add(f.pollTimeout)

	for time.Now().Before(deadline) {
		resp, err := postJSON(f.client, openaiDeviceTokenURL, map[string]string{
			"device_auth_id": dev.DeviceAuthID,
			"user_code":      dev.UserCode,
		})
		if err != nil {
			time.Sleep(interval)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var payload struct {
				AuthorizationCode string `json:"authorization_code"`
				CodeVerifier      string `json:"code_verifier"`
			}
			err := json.NewDecoder(resp.Body).Decode(&payload)
			resp.Body.Close()
			if err != nil {
				return credentials{}, fmt.Errorf("decode poll response: %w", err)
			}
			if payload.AuthorizationCode == "" || payload.CodeVerifier == "" {
				return credentials{}, errors.New("poll response missing authorization_code or code_verifier")
			}
			return openaiExchangeCode(f, payload.AuthorizationCode, payload.CodeVerifier)
		case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			time.Sleep(interval)
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			interval = minDuration(interval+2*time.Second, 30*time.Second)
			time.Sleep(interval)
		default:
			resp.Body.Close()
			return credentials{}, fmt.Errorf("device token poll failed: %s", resp.Status)
		}
	}
	return credentials{}, errors.New("device-code login timed out")
}

func openaiExchangeCode(f *deviceCodeFlow, code, verifier string) (credentials, error) {
	values := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {openaiDeviceRedirectURI},
		"client_id":     {openaiClientID},
		"code_verifier": {verifier},
	}
	resp, err := postForm(f.client, openaiTokenURL, values)
	if err != nil {
		return credentials{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return credentials{}, fmt.Errorf("token exchange failed: %s", resp.Status)
	}
	return parseOpenAITokenResponse(resp.Body, "", "")
}

func openaiRefresh(f *deviceCodeFlow, c credentials) (credentials, error) {
	if c.RefreshToken == "" {
		return credentials{}, errors.New("no refresh token stored")
	}
	resp, err := postJSON(f.client, openaiTokenURL, map[string]string{
		"client_id":     openaiClientID,
		"grant_type":    "refresh_token",
		"refresh_token": c.RefreshToken,
		"scope":         "openid profile email",
	})
	if err != nil {
		return credentials{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return credentials{}, fmt.Errorf("refresh failed: %s", resp.Status)
	}
	refreshed, err := parseOpenAITokenResponse(resp.Body, c.AccessToken, c.RefreshToken)
	if err != nil {
		return credentials{}, err
	}
	if err := f.writeCredentials(refreshed); err != nil {
		return credentials{}, err
	}
	return refreshed, nil
}

func parseOpenAITokenResponse(body io.Reader, fallbackAccess, fallbackRefresh string) (credentials, error) {
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return credentials{}, fmt.Errorf("decode token response: %w", err)
	}

	access := payload.AccessToken
	if access == "" {
		access = fallbackAccess
	}
	refresh := payload.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	if access == "" || refresh == "" {
		return credentials{}, errors.New("token response missing credentials")
	}

	expiry := resolveExpiry(access, payload.ExpiresIn)
	return credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry.Format(time.RFC3339),
		Provider:     "openai",
	}, nil
}

func resolveExpiry(accessToken string, expiresIn int64) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := decodeJWTExpiry(accessToken); ok {
		return exp
	}
	return time.Now().Add(1 * time.Hour)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
