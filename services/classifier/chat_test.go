package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
)

func newTestClassifier(t *testing.T, handler http.HandlerFunc) *ChatClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := core.NewTestConfig()
	conf.Classifier.URL = srv.URL
	conf.Classifier.APIKey = "sk-test"
	conf.Classifier.RequestsPerMinute = 6000
	conf.Classifier.Timeout = time.Second
	return NewChatClassifier(conf)
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func TestChatClassifier_Classify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    moderation.Verdict
		wantErr bool
	}{
		{
			name:   "clean",
			status: http.StatusOK,
			body:   completion(`{"isFlagged": false, "confidence": 0.98}`),
			want:   moderation.Verdict{Confidence: .98},
		},
		{
			name:   "flagged",
			status: http.StatusOK,
			body:   completion(`{"isFlagged": true, "category": "academic dishonesty", "confidence": 0.91, "explanation": "sells answers"}`),
			want:   moderation.Verdict{IsFlagged: true, Category: "academic dishonesty", Confidence: .91, Explanation: "sells answers"},
		},
		{
			name:   "flagged without category",
			status: http.StatusOK,
			body:   completion(`{"isFlagged": true}`),
			want:   moderation.Verdict{IsFlagged: true, Category: "policy violation"},
		},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{"error": "overloaded"}`, wantErr: true},
		{name: "no choices", status: http.StatusOK, body: `{"choices": []}`, wantErr: true},
		{name: "verdict not json", status: http.StatusOK, body: completion("I think it is fine"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req chatRequest
			c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.Classify(context.Background(), "selling the final exam answers", moderation.ContentPost)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, req.Messages, 2)
			assert.Contains(t, req.Messages[0].Content, "Analyze the following post")
			assert.Equal(t, "selling the final exam answers", req.Messages[1].Content)
			assert.Equal(t, "json_object", req.ResponseFormat["type"])
		})
	}
}

func TestChatClassifier_rateLimit(t *testing.T) {
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion(`{"isFlagged": false}`)))
	})
	c.limiter.SetLimit(0.001) // one token, then none for a long while

	_, err := c.Classify(context.Background(), "first", moderation.ContentNote)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Classify(ctx, "second", moderation.ContentNote)
	assert.Error(t, err)
}

func TestChatClassifier_timeoutCoversRateLimit(t *testing.T) {
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion(`{"isFlagged": false}`)))
	})
	c.timeout = 100 * time.Millisecond
	c.limiter.SetLimit(1) // one request per second

	_, err := c.Classify(context.Background(), "first", moderation.ContentNote)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Classify(context.Background(), "second", moderation.ContentNote)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChatClassifier_slowServer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Classify(context.Background(), "anything", moderation.ContentPost)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
