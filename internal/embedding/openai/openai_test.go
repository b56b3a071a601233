package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
)

func TestNewClient_KeyOnlyRequiredForPublicAPI(t *testing.T) {
	t.Setenv("DOCTRIAGE_TEST_OPENAI", "")
	_, err := NewClient(Config{APIKeyEnv: "DOCTRIAGE_TEST_OPENAI"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost:11434/v1", APIKeyEnv: "DOCTRIAGE_TEST_OPENAI"}, nil)
	assert.NoError(t, err)
}

func TestEmbed_OpenAIShape(t *testing.T) {
	t.Setenv("DOCTRIAGE_TEST_OPENAI", "sk-test")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Equal(t, "hello", body["input"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.25,0.5]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKeyEnv: "DOCTRIAGE_TEST_OPENAI", Model: "nomic-embed-text"}, nil)
	require.NoError(t, err)
	v, err := c.Embed(context.Background(), "hello", domain.IntentQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5}, v)
	assert.Equal(t, 2, c.Dimension())
	assert.Equal(t, "openai", c.Name())
}

func TestEmbed_OllamaShapeAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[1,2,3]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)
	v, err := c.Embed(context.Background(), "x", domain.IntentDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbed_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "x", domain.IntentDocument)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, retryDelay(0))
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}

func TestEmbed_ConcurrentCallers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3,0.4]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "q", domain.IntentQuery)
			errs <- err
			_ = c.Dimension()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, c.Dimension())
}
