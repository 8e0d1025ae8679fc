package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiEngineGenerateReturnsConcatenatedParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "hello"}, {"text": " world"}},
				}},
			},
		})
	}))
	defer srv.Close()

	e := NewGeminiEngine("test-key", srv.URL, "gemini-test", slog.Default())
	out := e.Generate(context.Background(), "hi", nil)
	assert.Equal(t, "hello world", out)
}

func TestGeminiEngineBuildBodyHoistsSystemAndMapsAssistantToModel(t *testing.T) {
	e := NewGeminiEngine("k", "http://unused", "m", slog.Default())
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "prior"},
		{Role: RoleUser, Content: "now"},
	}
	body := e.buildBody(msgs)

	sysInstr := body["system_instruction"].(map[string]interface{})
	parts := sysInstr["parts"].([]map[string]string)
	assert.Equal(t, "sys", parts[0]["text"])

	contents := body["contents"].([]map[string]interface{})
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0]["role"])
	assert.Equal(t, "user", contents[1]["role"])
}

func TestGeminiEngineStreamParsesSSEDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.RawQuery, "alt=sse"))
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"a"}]}}]}`+"\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"b"}]}}]}`+"\n")
	}))
	defer srv.Close()

	e := NewGeminiEngine("test-key", srv.URL, "gemini-test", slog.Default())
	var got []string
	e.Stream(context.Background(), "hi", nil, func(c string) { got = append(got, c) })
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestGeminiEngineIsAvailableFalseWithoutKey(t *testing.T) {
	e := NewGeminiEngine("", "http://unused", "m", slog.Default())
	assert.False(t, e.IsAvailable(context.Background()))
}
