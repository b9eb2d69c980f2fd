package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/events"
	"github.com/taskdeck/backend/internal/metrics"
	"github.com/taskdeck/backend/internal/undo"
)

// maxToolRounds bounds the model round-trip loop so a misbehaving model
// cannot spin tool calls forever.
const maxToolRounds = 8

// userFacingProviderError is what callers see when the upstream provider
// fails; the underlying cause is logged server-side only.
const userFacingProviderError = "The assistant is temporarily unavailable. Please try again."

// ExecuteResult is the outcome of one assistant turn.
type ExecuteResult struct {
	Success       bool             `json:"success"`
	Response      string           `json:"response,omitempty"`
	ToolCallsMade []ToolCallResult `json:"toolCallsMade,omitempty"`
	UndoBatch     undo.Batch       `json:"undoBatch,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Executor dispatches natural-language commands: it forwards the command
// plus context to the provider with the fixed tool schema, executes the
// tool calls the model requests, and accumulates one undo batch for the
// turn.
type Executor struct {
	gateway  database.Gateway
	provider Provider
	emitter  events.Emitter
	metrics  *metrics.Metrics
}

// NewExecutor creates an executor. emitter and m may be nil; events and
// metrics are then skipped.
func NewExecutor(gw database.Gateway, provider Provider, emitter events.Emitter, m *metrics.Metrics) *Executor {
	return &Executor{gateway: gw, provider: provider, emitter: emitter, metrics: m}
}

// Configured reports whether the provider has an API key. Used by the GET
// status surface; never calls upstream.
func (e *Executor) Configured() bool {
	return e.provider.Configured()
}

// ModelName returns the configured model identifier.
func (e *Executor) ModelName() string {
	return e.provider.ModelName()
}

// Execute runs one assistant turn synchronously.
func (e *Executor) Execute(ctx context.Context, command string, actx Context, history []Message) *ExecuteResult {
	return e.run(ctx, command, actx, history, "", nil)
}

// ExecuteStream runs one assistant turn while emitting progress, tool_call
// and error events under turnID as they occur, terminated by a single done
// event. The consumer may disconnect at any time; emission simply stops
// finding subscribers.
func (e *Executor) ExecuteStream(ctx context.Context, command string, actx Context, history []Message, turnID string) *ExecuteResult {
	emit := func(eventType string, data map[string]interface{}) {
		if e.emitter != nil {
			e.emitter.Emit(eventType, actx.WorkspaceID, turnID, data)
		}
	}
	result := e.run(ctx, command, actx, history, turnID, emit)
	emit("done", nil)
	return result
}

func (e *Executor) run(ctx context.Context, command string, actx Context, history []Message, turnID string, emit func(string, map[string]interface{})) *ExecuteResult {
	start := time.Now()
	streaming := "false"
	if emit == nil {
		emit = func(string, map[string]interface{}) {}
	} else {
		streaming = "true"
	}

	if command == "" {
		e.countCommand("rejected")
		return &ExecuteResult{Success: false, Error: "Command must not be empty"}
	}

	recorder := undo.NewRecorder()
	result := &ExecuteResult{ToolCallsMade: []ToolCallResult{}}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: systemPrompt(actx)})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: command})

	schema := toolSchema()

	for round := 0; round < maxToolRounds; round++ {
		emit("progress", map[string]interface{}{"content": "Thinking..."})

		providerStart := time.Now()
		completion, err := e.provider.Complete(ctx, messages, schema)
		if e.metrics != nil {
			e.metrics.ProviderLatency.WithLabelValues(e.provider.ModelName()).Observe(time.Since(providerStart).Seconds())
		}
		if err != nil {
			slog.Error("assistant: provider call failed",
				"workspace_id", actx.WorkspaceID,
				"round", round,
				"error", err,
			)
			emit("error", map[string]interface{}{"content": userFacingProviderError})
			e.countCommand("error")
			e.observeDuration(streaming, start)
			result.Error = userFacingProviderError
			result.UndoBatch = recorder.Batch()
			return result
		}

		if len(completion.ToolCalls) == 0 {
			result.Success = true
			result.Response = completion.Content
			result.UndoBatch = recorder.Batch()
			e.countCommand("success")
			e.observeDuration(streaming, start)
			return result
		}

		// The model asked for tools: execute each, then feed results back
		// for the next round.
		assistantMsg := Message{Role: "assistant", Content: completion.Content, ToolCalls: completion.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, call := range completion.ToolCalls {
			callResult := e.executeToolCall(ctx, actx, call, recorder)
			result.ToolCallsMade = append(result.ToolCallsMade, callResult)

			emit("tool_call", map[string]interface{}{"content": map[string]interface{}{
				"tool":    callResult.Tool,
				"success": callResult.Result.Success,
				"error":   callResult.Result.Error,
			}})

			payload, err := json.Marshal(callResult.Result)
			if err != nil {
				payload = []byte(`{"success":false,"error":"result serialization failed"}`)
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}
	}

	// Round budget exhausted without a final text answer.
	slog.Warn("assistant: tool round limit reached", "workspace_id", actx.WorkspaceID, "rounds", maxToolRounds)
	result.Success = true
	result.Response = "Done (" + strconv.Itoa(len(result.ToolCallsMade)) + " actions taken)."
	result.UndoBatch = recorder.Batch()
	e.countCommand("success")
	e.observeDuration(streaming, start)
	return result
}

// executeToolCall validates and runs one requested tool invocation,
// recording its reversal steps on success. Failures are captured in the
// result so the model can react; they never abort the turn.
func (e *Executor) executeToolCall(ctx context.Context, actx Context, call ToolCall, recorder *undo.Recorder) ToolCallResult {
	result := ToolCallResult{Tool: call.Function.Name, Arguments: map[string]interface{}{}}

	spec := lookupTool(call.Function.Name)
	if spec == nil {
		result.Result = ToolOutcome{Success: false, Error: fmt.Sprintf("unknown tool %q", call.Function.Name)}
		e.countToolCall(call.Function.Name, "error")
		return result
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			result.Result = ToolOutcome{Success: false, Error: "malformed tool arguments"}
			e.countToolCall(spec.name, "error")
			return result
		}
	}
	result.Arguments = args

	data, steps, err := spec.run(ctx, e.gateway, actx, args)
	if err != nil {
		slog.Warn("assistant: tool call failed", "tool", spec.name, "workspace_id", actx.WorkspaceID, "error", err)
		result.Result = ToolOutcome{Success: false, Error: err.Error()}
		e.countToolCall(spec.name, "error")
		return result
	}

	for _, step := range steps {
		recorder.Record(step)
	}
	result.Result = ToolOutcome{Success: true, Data: data}
	e.countToolCall(spec.name, "success")
	return result
}

// systemPrompt scopes the model to the calling user and workspace.
func systemPrompt(actx Context) string {
	prompt := fmt.Sprintf(
		"You are the AI assistant of a project management dashboard. "+
			"You help %s manage the workspace %q by calling the provided tools. "+
			"Only mutate data through tool calls; never invent ids. "+
			"When the work is complete, reply with a short confirmation of what was done.",
		actx.UserName, actx.WorkspaceName,
	)
	if actx.CurrentProjectID != "" {
		prompt += fmt.Sprintf(" The user is currently viewing project %s.", actx.CurrentProjectID)
	}
	if actx.CurrentTabID != "" {
		prompt += fmt.Sprintf(" The user is currently viewing tab %s.", actx.CurrentTabID)
	}
	return prompt
}

func (e *Executor) countCommand(outcome string) {
	if e.metrics != nil {
		e.metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Executor) countToolCall(tool, status string) {
	if e.metrics != nil {
		e.metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	}
}

// observeDuration records the end-to-end turn duration. Every dispatch exit
// observes it so error and round-exhausted turns are represented too.
func (e *Executor) observeDuration(streaming string, start time.Time) {
	if e.metrics != nil {
		e.metrics.CommandDuration.WithLabelValues(streaming).Observe(time.Since(start).Seconds())
	}
}
