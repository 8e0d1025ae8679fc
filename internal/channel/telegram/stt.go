package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
)

const (
	defaultSTTTimeoutSeconds = 30
	sttTranscribeEndpoint    = "/transcribe_audio"
)

type sttResponse struct {
	Transcript string `json:"transcript"`
}

// transcribeVoice downloads a Telegram voice note and forwards it to the
// configured STT proxy. Returns ("", nil) when no proxy is configured so
// callers silently skip transcription rather than treating it as a failure.
func (t *Transport) transcribeVoice(ctx context.Context, msg *telego.Message) (string, error) {
	if t.cfg.STTProxyURL == "" || msg.Voice == nil {
		return "", nil
	}

	fileInfo, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: msg.Voice.FileID})
	if err != nil {
		return "", fmt.Errorf("stt: resolve voice file: %w", err)
	}

	fileURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.Token, fileInfo.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("stt: build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: download voice file: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 25<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read voice file: %w", err)
	}

	return t.callSTTProxy(ctx, audio)
}

func (t *Transport) callSTTProxy(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "voice.ogg")
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes: %w", err)
	}
	if t.cfg.STTTenantID != "" {
		if err := w.WriteField("tenant_id", t.cfg.STTTenantID); err != nil {
			return "", fmt.Errorf("stt: write tenant_id field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	timeoutSec := t.cfg.STTTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = defaultSTTTimeoutSeconds
	}
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	url := t.cfg.STTProxyURL + sttTranscribeEndpoint
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.cfg.STTAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.STTAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result sttResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	return result.Transcript, nil
}
