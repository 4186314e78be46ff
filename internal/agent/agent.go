package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"biochat/internal/domain"
)

// ChatClient is the subset of *openai.Client the agent needs.
type ChatClient interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Config configures an Agent.
type Config struct {
	Model    string
	MaxSteps int
	Logger   *zap.Logger
}

// Agent answers questions with a streaming function-calling loop over the
// knowledge base tool.
type Agent struct {
	client   ChatClient
	tool     *RetrievalTool
	memory   *Memory
	model    string
	maxSteps int
	log      *zap.Logger
}

func New(client ChatClient, tool *RetrievalTool, memory *Memory, cfg Config) *Agent {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Agent{
		client:   client,
		tool:     tool,
		memory:   memory,
		model:    cfg.Model,
		maxSteps: cfg.MaxSteps,
		log:      cfg.Logger,
	}
}

// StreamAnswer starts answering query and returns the stream of answer text.
// The channel is closed when the answer is complete; a failure is delivered as a
// final Fragment with Err set. Cancelling ctx stops the stream.
func (a *Agent) StreamAnswer(ctx context.Context, query string) <-chan domain.Fragment {
	out := make(chan domain.Fragment)
	go func() {
		defer close(out)
		answer, err := a.run(ctx, query, out)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Error("agent failed", zap.Error(err))
			}
			select {
			case out <- domain.Fragment{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		a.memory.Add(query, answer)
	}()
	return out
}

func (a *Agent) run(ctx context.Context, query string, out chan<- domain.Fragment) (string, error) {
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	messages = append(messages, a.memory.Messages()...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	// shown is everything streamed to the caller across steps.
	var shown strings.Builder
	for step := 1; step <= a.maxSteps; step++ {
		content, calls, err := a.step(ctx, messages, out)
		if err != nil {
			return "", err
		}
		shown.WriteString(content)
		if len(calls) == 0 {
			return shown.String(), nil
		}
		a.log.Debug("tool calls requested", zap.Int("step", step), zap.Int("calls", len(calls)))
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, call := range calls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    a.invoke(ctx, call),
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("%w (%d)", domain.ErrMaxSteps, a.maxSteps)
}

// step streams one completion, forwarding content deltas and collecting tool calls.
func (a *Agent) step(ctx context.Context, messages []openai.ChatCompletionMessage, out chan<- domain.Fragment) (string, []openai.ToolCall, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
		Tools:    []openai.Tool{a.tool.Definition()},
		Stream:   true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("chat completion: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	calls := map[int]*openai.ToolCall{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("chat completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			select {
			case out <- domain.Fragment{Text: delta.Content}:
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			call.Function.Name += tc.Function.Name
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	ordered := make([]openai.ToolCall, 0, len(idxs))
	for _, i := range idxs {
		ordered = append(ordered, *calls[i])
	}
	return content.String(), ordered, nil
}

// invoke runs one tool call. Failures are reported back to the model as the
// tool result so it can answer without the knowledge base.
func (a *Agent) invoke(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != a.tool.Name() {
		a.log.Warn("unknown tool requested", zap.String("tool", call.Function.Name))
		return fmt.Sprintf("Error: unknown tool %q.", call.Function.Name)
	}
	result, err := a.tool.Call(ctx, call.Function.Arguments)
	if err != nil {
		a.log.Warn("tool call failed", zap.String("tool", call.Function.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	a.log.Debug("tool call completed", zap.String("tool", call.Function.Name), zap.Int("bytes", len(result)))
	return result
}
