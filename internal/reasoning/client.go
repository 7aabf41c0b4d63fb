// Package reasoning implements the reasoning client adapter (C4): prompt
// assembly, a single OpenAI-compatible chat-completions call (with a
// Yandex-GPT-shaped special case behind a host-name sniff), JSON extraction,
// a fallback text parser, and conservative-default coercion on any failure.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/n3-n2-n1/kalmann/internal/domain"
	"github.com/n3-n2-n1/kalmann/pkg/retrier"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 7
	defaultRetryDelay = 2 * time.Second
	defaultMaxDelay   = 1 * time.Minute

	// defaultCallDeadline bounds any single analyse_* call; on expiry a
	// conservative verdict is returned instead of propagating the error.
	defaultCallDeadline = 120 * time.Second
)

const systemPrompt = `You are a disciplined derivatives trading analyst. You must remain symmetric in your treatment of bullish and bearish setups: never bias toward long positions. Respond only with the requested JSON object.`

// Client is the C4 reasoning adapter.
type Client interface {
	AnalyseEntry(ctx context.Context, prompt string) domain.EntryVerdict
	AnalysePosition(ctx context.Context, prompt string) domain.PositionVerdict
	// Healthy probes transport reachability for the orchestrator's startup
	// health-check (§4.8 step 1). It does not go through the conservative-
	// default fallback: a transport error here is a real "not ready" signal.
	Healthy(ctx context.Context) bool
}

// healthCheckDeadline bounds the startup probe well under the 120s analysis
// deadline, since a hung reasoning endpoint should fail startup fast.
const healthCheckDeadline = 10 * time.Second

// OpenAICompatibleClient sends a single text-in/JSON-out chat-completions
// request per call, retried with exponential backoff, falling back to a
// Yandex GPT request/response envelope when apiURL looks like a Yandex host.
type OpenAICompatibleClient struct {
	apiURL        string
	apiKey        string
	model         string
	httpClient    *http.Client
	retrier       *retrier.Retrier
	customHeaders map[string]string
}

// NewOpenAICompatibleClient builds a client against apiURL, optionally
// routed through proxyURL.
func NewOpenAICompatibleClient(apiURL, apiKey, model, proxyURL string) (*OpenAICompatibleClient, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse reasoning client proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	c := &OpenAICompatibleClient{
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		retrier: retrier.New(
			retrier.WithMaxRetries(defaultMaxRetries),
			retrier.WithInitialInterval(defaultRetryDelay),
			retrier.WithMaxInterval(defaultMaxDelay),
			retrier.WithJitter(0.1),
		),
		customHeaders: make(map[string]string),
	}
	c.setProviderSpecificHeaders()
	return c, nil
}

func (c *OpenAICompatibleClient) setProviderSpecificHeaders() {
	if c.isYandexAPI() && strings.HasPrefix(c.model, "gpt://") {
		parts := strings.SplitN(strings.TrimPrefix(c.model, "gpt://"), "/", 2)
		if len(parts) >= 1 {
			c.customHeaders["OpenAI-Project"] = parts[0]
		}
	}
}

func (c *OpenAICompatibleClient) isYandexAPI() bool {
	return strings.Contains(c.apiURL, "yandex") || strings.Contains(c.apiURL, "yandex.net")
}

// AnalyseEntry sends the assembled entry prompt and returns a validated
// verdict, or a conservative default on timeout/transport/parse failure.
func (c *OpenAICompatibleClient) AnalyseEntry(ctx context.Context, prompt string) domain.EntryVerdict {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	raw, err := c.complete(callCtx, prompt)
	if err != nil {
		return domain.ConservativeEntryVerdict(fmt.Sprintf("reasoning call failed: %v", err))
	}
	return ParseEntryVerdict(raw)
}

// AnalysePosition sends the assembled position-management prompt and
// returns a validated verdict, or a conservative default on failure.
func (c *OpenAICompatibleClient) AnalysePosition(ctx context.Context, prompt string) domain.PositionVerdict {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	raw, err := c.complete(callCtx, prompt)
	if err != nil {
		return domain.ConservativePositionVerdict(fmt.Sprintf("reasoning call failed: %v", err))
	}
	return ParsePositionVerdict(raw)
}

// Healthy sends a trivial completion request with a short deadline and
// reports whether the transport answered at all, ignoring content.
func (c *OpenAICompatibleClient) Healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckDeadline)
	defer cancel()

	_, err := c.complete(probeCtx, "ping")
	return err == nil
}

func (c *OpenAICompatibleClient) complete(ctx context.Context, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("reasoning client: API key is empty")
	}
	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (string, error) {
		if c.isYandexAPI() {
			return c.sendYandex(ctx, userPrompt)
		}
		return c.sendChat(ctx, userPrompt)
	})
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (c *OpenAICompatibleClient) sendChat(ctx context.Context, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.0,
		MaxTokens:   8000,
	}

	body, status, err := c.post(ctx, c.apiURL, reqBody)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("reasoning API returned status %d: %s", status, string(body))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal reasoning response")
	}
	if resp.Error != nil {
		return "", fmt.Errorf("reasoning API error: %s (type: %s, code: %s)", resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("reasoning API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type yandexRequest struct {
	Model           string  `json:"model"`
	Instructions    string  `json:"instructions"`
	Input           string  `json:"input"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

type yandexResponse struct {
	Output []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

func (c *OpenAICompatibleClient) sendYandex(ctx context.Context, userPrompt string) (string, error) {
	reqBody := yandexRequest{
		Model:           c.model,
		Instructions:    systemPrompt,
		Input:           userPrompt,
		Temperature:     0.0,
		MaxOutputTokens: 8000,
	}

	body, status, err := c.post(ctx, c.apiURL+"/responses", reqBody)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("yandex API returned status %d: %s", status, string(body))
	}

	var resp yandexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal yandex response")
	}
	if resp.Error != nil {
		return "", fmt.Errorf("yandex API error: %s (type: %s, code: %s)", resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}
	if len(resp.Output) == 0 || len(resp.Output[0].Content) == 0 {
		return "", errors.New("yandex API returned empty output")
	}

	text := strings.TrimSpace(resp.Output[0].Content[0].Text)
	text = strings.TrimPrefix(text, "```json")
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text), nil
}

func (c *OpenAICompatibleClient) post(ctx context.Context, targetURL string, reqBody any) ([]byte, int, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to marshal reasoning request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build reasoning request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.customHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reasoning HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read reasoning response body")
	}
	return body, resp.StatusCode, nil
}
