package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdk "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
)

type stubAPI struct {
	chatErrs  []error
	chatResp  sdk.ChatCompletionResponse
	chatCalls []sdk.ChatCompletionRequest

	embedResp sdk.EmbeddingResponse
	embedErr  error
	embedReq  sdk.EmbeddingRequest
}

func (s *stubAPI) CreateChatCompletion(_ context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error) {
	s.chatCalls = append(s.chatCalls, req)
	if len(s.chatErrs) > 0 {
		err := s.chatErrs[0]
		s.chatErrs = s.chatErrs[1:]
		if err != nil {
			return sdk.ChatCompletionResponse{}, err
		}
	}
	return s.chatResp, nil
}

func (s *stubAPI) CreateEmbeddings(_ context.Context, conv sdk.EmbeddingRequestConverter) (sdk.EmbeddingResponse, error) {
	s.embedReq = conv.Convert()
	return s.embedResp, s.embedErr
}

func chatResponse(content string) sdk.ChatCompletionResponse {
	return sdk.ChatCompletionResponse{
		Choices: []sdk.ChatCompletionChoice{{
			Message: sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleAssistant, Content: content},
		}},
	}
}

func newTestClient(a api, retries int) *Client {
	c := newClient(a, Config{MaxRetries: retries}, zap.NewNop())
	c.retryDelay = time.Millisecond
	return c
}

func TestClassifySendsSystemAndUserMessages(t *testing.T) {
	stub := &stubAPI{chatResp: chatResponse(`{"classification":"rejected"}`)}
	c := newTestClient(stub, 1)

	raw, err := c.Classify(context.Background(), ai.ClassifyRequest{
		Instructions: "classify",
		Content:      "We regret to inform you",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != `{"classification":"rejected"}` {
		t.Fatalf("unexpected output %q", raw)
	}

	if len(stub.chatCalls) != 1 {
		t.Fatalf("expected one call, got %d", len(stub.chatCalls))
	}
	req := stub.chatCalls[0]
	if req.Model != DefaultModel {
		t.Fatalf("expected default model, got %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != sdk.ChatMessageRoleSystem || req.Messages[1].Content != "We regret to inform you" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != sdk.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatalf("expected json response format")
	}
}

func TestClassifyRetriesTransientErrors(t *testing.T) {
	stub := &stubAPI{
		chatErrs: []error{&sdk.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}},
		chatResp: chatResponse(`{}`),
	}
	c := newTestClient(stub, 3)

	if _, err := c.Classify(context.Background(), ai.ClassifyRequest{Content: "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.chatCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(stub.chatCalls))
	}
}

func TestClassifyDoesNotRetryClientErrors(t *testing.T) {
	stub := &stubAPI{
		chatErrs: []error{&sdk.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}},
	}
	c := newTestClient(stub, 3)

	_, err := c.Classify(context.Background(), ai.ClassifyRequest{Content: "hello"})
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if len(stub.chatCalls) != 1 {
		t.Fatalf("expected single call, got %d", len(stub.chatCalls))
	}
}

func TestClassifyEmptyChoices(t *testing.T) {
	c := newTestClient(&stubAPI{}, 1)

	if _, err := c.Classify(context.Background(), ai.ClassifyRequest{Content: "hello"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbedForwardsModelAndDimension(t *testing.T) {
	stub := &stubAPI{embedResp: sdk.EmbeddingResponse{
		Data: []sdk.Embedding{{Embedding: []float32{1, 0, 0}}},
	}}
	c := newClient(stub, Config{EmbeddingModel: "text-embedding-3-large", Dimension: 3}, zap.NewNop())

	values, err := c.Embed(context.Background(), "Backend Engineer at Acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	if stub.embedReq.Model != sdk.EmbeddingModel("text-embedding-3-large") || stub.embedReq.Dimensions != 3 {
		t.Fatalf("unexpected embedding request: %+v", stub.embedReq)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	c := newTestClient(&stubAPI{}, 1)

	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
