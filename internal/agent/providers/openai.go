package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

// openAIAliases maps short model aliases to full model ids.
var openAIAliases = map[string]string{
	"gpt":     "gpt-4o",
	"4o":      "gpt-4o",
	"4o-mini": "gpt-4o-mini",
	"mini":    "gpt-4o-mini",
}

const openAIDefaultModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, compatible APIs).
	BaseURL string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxRetries bounds request-creation retries. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default: 1s.
	RetryDelay time.Duration
}

// OpenAIProvider adapts the OpenAI chat completions API to the
// canonical provider interface.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: api key required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

// ResolveModel maps short aliases to full model ids. Unknown aliases
// pass through unchanged.
func (p *OpenAIProvider) ResolveModel(alias string) string {
	if full, ok := openAIAliases[strings.ToLower(alias)]; ok {
		return full
	}
	return alias
}

// Models returns the supported model ids.
func (p *OpenAIProvider) Models() []string {
	return []string{"gpt-4o", "gpt-4o-mini"}
}

// SupportsTools reports tool-call support.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete streams a completion. Request creation retries with linear
// backoff on retryable errors; stream failures arrive as error chunks.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.SystemPrompt),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	if len(req.Tools) > 0 && !toolChoiceIsNone(req.ToolChoice) {
		chatReq.Tools = convertOpenAITools(req.Tools)
		switch {
		case req.ToolChoice == nil || req.ToolChoice.Type == agent.ToolChoiceAuto:
			// Provider default.
		case req.ToolChoice.Type == agent.ToolChoiceAny:
			chatReq.ToolChoice = "required"
		case req.ToolChoice.Type == agent.ToolChoiceTool:
			chatReq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice.Name},
			}
		}
	}

	var stream *openai.ChatCompletionStream
	err := p.Retry(ctx, IsRetryable, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if streamErr != nil {
			return p.wrapError(streamErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream consumes the stream, emitting text immediately and
// assembling tool calls through the accumulator until the finish
// reason or EOF flushes them.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	acc := newToolCallAccumulator()
	var usage models.Usage

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Normal end: flush anything still pending and finish.
				for _, tc := range acc.flush() {
					chunks <- &agent.CompletionChunk{ToolCall: tc}
				}
				chunks <- &agent.CompletionChunk{Done: true, Usage: usage}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model), Done: true}
			return
		}

		// The usage-bearing frame has no choices.
		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			for _, tc := range acc.flush() {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
	}
}

// toolCallAccumulator assembles tool calls from OpenAI's incremental
// stream format. Fragments arrive keyed by positional index; the call
// id and function name appear only on the first fragment, so later
// fragments with no id are merged into the entry at the same index.
// The index map lives for the duration of one stream.
type toolCallAccumulator struct {
	calls map[int]*models.ToolCall
	order []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*models.ToolCall)}
}

// add merges one streamed fragment.
func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}

	call := a.calls[index]
	if call == nil {
		call = &models.ToolCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}

	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		call.Input = append(call.Input, []byte(tc.Function.Arguments)...)
	}
}

// flush returns the completed calls in arrival order and resets the
// accumulator. Entries that never got an id or name are dropped.
func (a *toolCallAccumulator) flush() []*models.ToolCall {
	var out []*models.ToolCall
	for _, index := range a.order {
		call := a.calls[index]
		if call == nil || call.ID == "" || call.Name == "" {
			continue
		}
		if len(call.Input) == 0 {
			call.Input = json.RawMessage(`{}`)
		}
		out = append(out, call)
	}
	a.calls = make(map[int]*models.ToolCall)
	a.order = nil
	return out
}

// convertOpenAIMessages maps canonical messages to OpenAI's format.
// The system prompt is injected as the first message; each tool
// result becomes its own "tool" role message.
func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			// System rides as the injected first message only.
			continue

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

// convertOpenAITools maps tool definitions to OpenAI's function
// format with the strict schema transform applied. A schema that
// fails to parse degrades to an empty object schema so one bad tool
// cannot break the whole request.
func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		strict := EnforceStrictSchema(tool.InputSchema)

		var schemaMap map[string]any
		if err := json.Unmarshal(strict, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"required":             []any{},
				"additionalProperties": false,
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Strict:      true,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return p.ResolveModel(model)
}

// wrapError converts SDK errors into ProviderError.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}

	return NewProviderError("openai", model, err)
}
