package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/airouter/airouter/internal/routerr"
	"github.com/airouter/airouter/internal/types"
)

// defaultCaller is the production Caller: it dispatches per endpoint on
// types.WireFormat to an OpenAI-compatible client (the required default)
// or an Anthropic-native client (an additive capability), and signs
// requests for endpoints tagged signed_requests.
type defaultCaller struct {
	logger *logrus.Logger
}

func newDefaultCaller(logger *logrus.Logger) *defaultCaller {
	return &defaultCaller{logger: logger}
}

func (c *defaultCaller) Call(ctx context.Context, ep types.Endpoint, messages []types.ChatMessage, maxTokens int, fpHash string) (types.EndpointResponse, *routerr.Error) {
	switch ep.WireFormat {
	case types.WireAnthropic:
		return c.callAnthropic(ctx, ep, messages, maxTokens, fpHash)
	default:
		return c.callOpenAI(ctx, ep, messages, maxTokens, fpHash)
	}
}

func (c *defaultCaller) httpClientFor(ep types.Endpoint, fpHash string) *http.Client {
	if !ep.HasCapability(types.CapSignedRequests) {
		return http.DefaultClient
	}
	return &http.Client{Transport: &signingTransport{ep: ep, fpHash: fpHash, base: http.DefaultTransport}}
}

func (c *defaultCaller) callOpenAI(ctx context.Context, ep types.Endpoint, messages []types.ChatMessage, maxTokens int, fpHash string) (types.EndpointResponse, *routerr.Error) {
	cfg := openai.DefaultConfig(ep.AuthSecretRef)
	cfg.BaseURL = ep.BaseURL
	cfg.HTTPClient = c.httpClientFor(ep, fpHash)
	client := openai.NewClientWithConfig(cfg)

	req := openai.ChatCompletionRequest{
		Model:     ep.ModelID,
		Messages:  convertMessagesOpenAI(messages),
		MaxTokens: maxTokens,
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return types.EndpointResponse{}, classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return types.EndpointResponse{}, routerr.New(routerr.KindUpstream5xx, "endpoint returned no choices")
	}
	return types.EndpointResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func convertMessagesOpenAI(messages []types.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func classifyOpenAIError(ctx context.Context, err error) *routerr.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return routerr.Wrap(routerr.KindTimeout, "openai call timed out", err)
	}
	apiErr, ok := err.(*openai.APIError)
	if !ok {
		return routerr.Wrap(routerr.KindNetwork, "openai call failed", err)
	}
	switch {
	case apiErr.HTTPStatusCode == 429:
		return routerr.Wrap(routerr.KindCapacity, "endpoint returned 429", err)
	case apiErr.HTTPStatusCode >= 500:
		return routerr.Wrap(routerr.KindUpstream5xx, "endpoint returned 5xx", err)
	case apiErr.HTTPStatusCode >= 400:
		return routerr.Wrap(routerr.KindUpstream4xx, "endpoint returned non-429 4xx", err)
	default:
		return routerr.Wrap(routerr.KindNetwork, "openai call failed", err)
	}
}

func (c *defaultCaller) callAnthropic(ctx context.Context, ep types.Endpoint, messages []types.ChatMessage, maxTokens int, fpHash string) (types.EndpointResponse, *routerr.Error) {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(ep.AuthSecretRef),
		anthropicoption.WithHTTPClient(c.httpClientFor(ep, fpHash)),
	}
	if ep.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(ep.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(ep.ModelID),
		Messages:  convertMessagesAnthropic(messages),
		MaxTokens: int64(maxTokens),
	}

	resp, err := client.Messages.New(ctx, req)
	if err != nil {
		return types.EndpointResponse{}, classifyAnthropicError(ctx, err)
	}
	var content string
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}
	return types.EndpointResponse{
		Content:          content,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func convertMessagesAnthropic(messages []types.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}
	return out
}

// statusCoder is implemented by anthropic-sdk-go's error type in recent
// SDK versions; classification falls back to network on any error shape
// that doesn't expose a status code.
type statusCoder interface {
	StatusCode() int
}

func classifyAnthropicError(ctx context.Context, err error) *routerr.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return routerr.Wrap(routerr.KindTimeout, "anthropic call timed out", err)
	}
	sc, ok := err.(statusCoder)
	if !ok {
		return routerr.Wrap(routerr.KindNetwork, "anthropic call failed", err)
	}
	switch code := sc.StatusCode(); {
	case code == 429:
		return routerr.Wrap(routerr.KindCapacity, "endpoint returned 429", err)
	case code >= 500:
		return routerr.Wrap(routerr.KindUpstream5xx, "endpoint returned 5xx", err)
	case code >= 400:
		return routerr.Wrap(routerr.KindUpstream4xx, "endpoint returned non-429 4xx", err)
	default:
		return routerr.Wrap(routerr.KindNetwork, "anthropic call failed", err)
	}
}

// signingTransport attaches a short-lived JWT asserting which router
// instance and fingerprint produced a call to every outbound request, for
// endpoints tagged signed_requests, so the receiving endpoint can verify
// request provenance.
type signingTransport struct {
	ep     types.Endpoint
	fpHash string
	base   http.RoundTripper
}

type provenanceClaims struct {
	Endpoint        string `json:"endpoint"`
	FingerprintHash string `json:"fingerprint_hash"`
	jwt.RegisteredClaims
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	now := time.Now()
	claims := provenanceClaims{
		Endpoint:        t.ep.Name,
		FingerprintHash: t.fpHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "airouter",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Second)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.ep.AuthSecretRef))
	if err != nil {
		return nil, fmt.Errorf("sign provenance token: %w", err)
	}
	req.Header.Set("X-Router-Assertion", signed)
	return t.base.RoundTrip(req)
}
