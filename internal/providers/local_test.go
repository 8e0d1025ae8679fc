package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalEngineGenerateAccumulatesNonStreamedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"foo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"bar"},"done":true}`)
	}))
	defer srv.Close()

	e := NewLocalEngine(srv.URL, "llama-local", slog.Default())
	out := e.Generate(context.Background(), "hi", nil)
	assert.Equal(t, "foobar", out)
}

func TestLocalEngineStreamStopsAtDoneLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"content":"b"},"done":true}`)
		fmt.Fprintln(w, `{"message":{"content":"never seen"},"done":false}`)
	}))
	defer srv.Close()

	e := NewLocalEngine(srv.URL, "llama-local", slog.Default())
	var got []string
	e.Stream(context.Background(), "hi", nil, func(c string) { got = append(got, c) })
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLocalEngineIsAvailableProbesTagsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewLocalEngine(srv.URL, "llama-local", slog.Default())
	assert.True(t, e.IsAvailable(context.Background()))
}

func TestLocalEngineIsAvailableFalseWhenUnreachable(t *testing.T) {
	e := NewLocalEngine("http://127.0.0.1:1", "llama-local", slog.Default())
	assert.False(t, e.IsAvailable(context.Background()))
}
