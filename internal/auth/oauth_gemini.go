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
	googleDeviceCodeURL   = "https://oauth2.googleapis.com/device/code"
	googleTokenURL        = "https://oauth2.googleapis.com/token"
	googleScope           = "https://www.googleapis.com/auth/generative-language"
	googleDefaultClientID = "681255809395-oe1ai0bih85l6aq4sksepfq7s4bpfkvq.apps.googleusercontent.com"

	geminiDefaultPollInterval = 5 * time.Second
	geminiDefaultPollTimeout  = 5 * time.Minute
)

func newGeminiFlow(authDir string) *deviceCodeFlow {
	return &deviceCodeFlow{
		provider:      "gemini",
		authFile:      filepath.Join(authDir, "gemini.json"),
		client:        newHTTPClient(),
		pollInterval:  geminiDefaultPollInterval,
		pollTimeout:   geminiDefaultPollTimeout,
		requestDevice: geminiRequestDevice,
		pollForTokens: geminiPollForTokens,
		refreshTokens: geminiRefresh,
		verificationURL: func(dev deviceCodeResponse) string {
			return dev.VerifyURI
		},
	}
}

func geminiRequestDevice(f *deviceCodeFlow) (deviceCodeResponse, error) {
	resp, err := postForm(f.client, googleDeviceCodeURL, url.Values{
		"client_id": {googleDefaultClientID},
		"scope":     {googleScope},
	})
	if err != nil {
		return deviceCodeResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return deviceCodeResponse{}, fmt.Errorf("device code request rejected: %s", resp.Status)
	}

	var payload struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURL string `json:"verification_url"`
		Interval        int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return deviceCodeResponse{}, fmt.Errorf("decode device code response: %w", err)
	}
	interval := payload.Interval
	if interval <= 0 {
		interval = int(geminiDefaultPollInterval.Seconds())
	}
	return deviceCodeResponse{
		UserCode:     payload.UserCode,
		DeviceAuthID: payload.DeviceCode,
		IntervalSecs: interval,
		VerifyURI:    payload.VerificationURL,
	}, nil
}

func geminiPollForTokens(f *deviceCodeFlow, dev deviceCodeResponse) (credentials, error) {
	interval := time.Duration(dev.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = geminiDefaultPollInterval
	}
	deadline := time.Now().Add(f.pollTimeout)

	for time.Now().Before(deadline) {
		resp, err := postForm(f.client, googleTokenURL, url.Values{
			"client_id":   {googleDefaultClientID},
			"device_code": {dev.DeviceAuthID},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		})
		if err != nil {
			time.Sleep(interval)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			c, err := parseGoogleTokenResponse(resp.Body, "", "")
			resp.Body.Close()
			return c, err
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errPayload)
		resp.Body.Close()

		switch errPayload.Error {
		case "authorization_pending", "slow_down":
			time.Sleep(interval)
			continue
		default:
			return credentials{}, fmt.Errorf("device token poll failed: %s", errPayload.Error)
		}
	}
	return credentials{}, errors.New("device-code login timed out")
}

func geminiRefresh(f *deviceCodeFlow, c credentials) (credentials, error) {
	if c.RefreshToken == "" {
		return credentials{}, errors.New("no refresh token stored")
	}
	resp, err := postForm(f.client, googleTokenURL, url.Values{
		"client_id":     {googleDefaultClientID},
		"refresh_token": {c.RefreshToken},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return credentials{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return credentials{}, fmt.Errorf("refresh failed: %s", resp.Status)
	}
	refreshed, err := parseGoogleTokenResponse(resp.Body, c.AccessToken, c.RefreshToken)
	if err != nil {
		return credentials{}, err
	}
	if err := f.writeCredentials(refreshed); err != nil {
		return credentials{}, err
	}
	return refreshed, nil
}

func parseGoogleTokenResponse(body io.Reader, fallbackAccess, fallbackRefresh string) (credentials, error) {
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
	if access == "" {
		return credentials{}, errors.New("token response missing access_token")
	}

	expiry := resolveExpiry(access, payload.ExpiresIn)
	return credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry.Format(time.RFC3339),
		Provider:     "gemini",
	}, nil
}
