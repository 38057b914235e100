package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"golang.org/x/time/rate"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
)

const (
	defaultURL   = "https://api.openai.com/v1/chat/completions"
	defaultModel = "gpt-4-turbo-preview"

	systemPrompt = `You are a content moderation system for a student learning platform. Analyze the following %s for:
1. Academic dishonesty (cheating, plagiarism, selling answers)
2. Inappropriate content (adult content, violence, hate speech)
3. Spam or misleading information
4. Personal information exposure

Respond in JSON format only with the following structure:
{
  "isFlagged": boolean,
  "category": string (if flagged),
  "confidence": number between 0 and 1,
  "explanation": string (if flagged)
}`
)

type (
	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model          string            `json:"model"`
		Messages       []chatMessage     `json:"messages"`
		ResponseFormat map[string]string `json:"response_format"`
	}

	chatResponse struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
)

// ChatClassifier asks a chat completions API whether content breaks the platform rules.
type ChatClassifier struct {
	client  *rest.Client
	url     string
	apiKey  string
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

var _ moderation.Classifier = (*ChatClassifier)(nil)

func NewChatClassifier(conf *core.Config) *ChatClassifier {
	rpm := conf.Classifier.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	timeout := conf.Classifier.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	url := conf.Classifier.URL
	if url == "" {
		url = defaultURL
	}
	model := conf.Classifier.Model
	if model == "" {
		model = defaultModel
	}
	return &ChatClassifier{
		client:  &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		url:     url,
		apiKey:  conf.Classifier.APIKey,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		timeout: timeout,
	}
}

// Classify waits for its turn under the rate limit, then sends content for analysis.
// The wait counts against the timeout: a call never takes longer than it.
func (c *ChatClassifier) Classify(ctx context.Context, content string, contentType moderation.ContentType) (moderation.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return moderation.Verdict{}, errors.Wrap(err, "waiting for classifier rate limit")
	}

	if contentType == "" {
		contentType = "content"
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, contentType)},
			{Role: "user", Content: content},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return moderation.Verdict{}, errors.Wrap(err, "encoding classifier request")
	}

	resp, err := c.send(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: c.url,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return moderation.Verdict{}, errors.Wrap(err, "calling classifier")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return moderation.Verdict{}, errors.Errorf("classifier responded %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	return parseVerdict(resp.Body)
}

func (c *ChatClassifier) send(ctx context.Context, request rest.Request) (*rest.Response, error) {
	req, err := rest.BuildRequestObject(request)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	res, err := c.client.MakeRequest(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return rest.BuildResponse(res)
}

func parseVerdict(body string) (moderation.Verdict, error) {
	var cr chatResponse
	if err := json.Unmarshal([]byte(body), &cr); err != nil {
		return moderation.Verdict{}, errors.Wrap(err, "decoding classifier response")
	}
	if len(cr.Choices) == 0 {
		return moderation.Verdict{}, errors.New("classifier returned no choices")
	}

	var v moderation.Verdict
	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return moderation.Verdict{}, errors.Wrap(err, "decoding verdict")
	}
	if v.IsFlagged && v.Category == "" {
		v.Category = "policy violation"
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
