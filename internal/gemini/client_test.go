package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctriage/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("DOCTRIAGE_TEST_EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "DOCTRIAGE_TEST_EMPTY_KEY"}, nil)
	assert.Error(t, err)

	t.Setenv("DOCTRIAGE_TEST_KEY", "abc")
	c, err := NewClient(Config{APIKeyEnv: "DOCTRIAGE_TEST_KEY"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.cfg.APIKey)
}

func TestGenerate_JSONMode(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"category\":"},{"text":"\"NLP\"}"}]}}]}`))
	})

	out, err := c.Generate(context.Background(), GenerateRequest{Model: "gemini-2.5-flash", Prompt: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"NLP"}`, out)

	gc, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", gc["responseMimeType"])
}

func TestGenerate_InlineImage(t *testing.T) {
	var body struct {
		Contents []struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mime_type"`
					Data     string `json:"data"`
				} `json:"inline_data"`
			} `json:"parts"`
		} `json:"contents"`
		GenerationConfig any `json:"generationConfig"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a cat on a sofa"}]}}]}`))
	})

	out, err := c.Generate(context.Background(), GenerateRequest{
		Model:  "models/gemini-2.5-flash",
		Prompt: "describe",
		Image:  &InlineImage{MIMEType: "image/png", Data: []byte("png")},
	})
	require.NoError(t, err)
	assert.Equal(t, "a cat on a sofa", out)
	require.Len(t, body.Contents, 1)
	require.Len(t, body.Contents[0].Parts, 2)
	assert.Equal(t, "describe", body.Contents[0].Parts[0].Text)
	require.NotNil(t, body.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", body.Contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, "cG5n", body.Contents[0].Parts[1].InlineData.Data)
	assert.Nil(t, body.GenerationConfig)
}

func TestGenerate_ErrorsMapToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":404,"message":"models/x is not found","status":"NOT_FOUND"}}`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, ErrRateLimited},
		{"plain 429", http.StatusTooManyRequests, `slow down`, ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Generate(context.Background(), GenerateRequest{Model: "x", Prompt: "p"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
		})
	}
}

func TestGenerate_ServerErrorIsNeitherSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "x", Prompt: "p"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelNotFound)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestGenerate_Blocked(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	})
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "x", Prompt: "p"})
	assert.ErrorContains(t, err, "SAFETY")
}

func TestEmbed_TaskType(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-embedding-004:embedContent", r.URL.Path)
		var body struct {
			Model    string `json:"model"`
			TaskType string `json:"taskType"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "models/text-embedding-004", body.Model)
		got = append(got, body.TaskType)
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	})

	vec, err := c.Embed(context.Background(), "doc", domain.IntentDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	_, err = c.Embed(context.Background(), "query", domain.IntentQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"RETRIEVAL_DOCUMENT", "RETRIEVAL_QUERY"}, got)
}

func TestEmbed_EmptyIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":{"values":[]}}`))
	})
	_, err := c.Embed(context.Background(), "doc", domain.IntentDocument)
	assert.Error(t, err)
}

func TestListModels_PagesAndFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"models":[
				{"name":"models/gemini-2.5-flash","supportedGenerationMethods":["generateContent","countTokens"]},
				{"name":"models/text-embedding-004","supportedGenerationMethods":["embedContent"]}
			],"nextPageToken":"p2"}`))
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("pageToken"))
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-1.5-flash-002","supportedGenerationMethods":["generateContent"]}]}`))
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"models/gemini-2.5-flash", "models/gemini-1.5-flash-002"}, models)
}

func TestModelPath(t *testing.T) {
	assert.Equal(t, "models/gemini-2.5-flash", modelPath("gemini-2.5-flash"))
	assert.Equal(t, "models/x", modelPath("models/x"))
	assert.Equal(t, "tunedModels/y", modelPath("tunedModels/y"))
}
