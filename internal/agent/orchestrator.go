// Package agent runs the turn loop: interpret the user's message, dispatch
// tool calls, and render the reply in the session's persona.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/satriobp/kino/internal/composer"
	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/tools"
)

// State labels a phase of the turn. A turn's state sequence always starts
// with Interpreting and ends with Responding.
type State string

const (
	StateInterpreting State = "interpreting"
	StateDirectReply  State = "direct_reply"
	StateToolDispatch State = "tool_dispatch"
	StateRetrievalQA  State = "retrieval_qa"
	StateResponding   State = "responding"
)

const defaultMaxToolRounds = 4

// ApologyReply is the fallback when a collaborator fails mid-turn. The
// session history survives so the user can simply try again.
const ApologyReply = "Sorry, something went wrong on my end while handling that. Your session is intact, please try again."

// CompletionClient produces chat completions. *llm.Client satisfies it.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// ToolInvocation is one entry of a turn's tool trace.
type ToolInvocation struct {
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Observation string          `json:"observation,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// TurnResult is everything a completed turn produced.
type TurnResult struct {
	Reply     string
	States    []State
	ToolTrace []ToolInvocation
}

// Orchestrator drives turns. One instance serves all sessions; per-session
// sequencing comes from the session's turn lock.
type Orchestrator struct {
	llm       CompletionClient
	model     string
	registry  *tools.Registry
	maxRounds int
	logger    *slog.Logger
}

// New creates an Orchestrator. Pass maxRounds <= 0 for the default.
func New(client CompletionClient, model string, registry *tools.Registry, maxRounds int) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	return &Orchestrator{
		llm:       client,
		model:     model,
		registry:  registry,
		maxRounds: maxRounds,
		logger:    slog.Default(),
	}
}

// Turn processes one user message to completion. Turns on the same session
// serialize; the session history gains exactly one user/assistant pair per
// turn regardless of how many tool rounds ran.
func (o *Orchestrator) Turn(ctx context.Context, sess *session.Session, userText string) (TurnResult, error) {
	unlock := sess.LockTurn()
	defer unlock()

	result := TurnResult{States: []State{StateInterpreting}}

	messages := []llm.Message{{Role: "system", Content: composer.DecisionSystemPrompt()}}
	messages = append(messages, sess.History()...)
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	// invalidRetries tracks how often the model already got to correct a
	// bad call per tool. One correction is allowed; after that it is told
	// to stop.
	invalidRetries := make(map[string]int)

	var draft string
	toolsUsed := false

	for round := 0; round < o.maxRounds; round++ {
		resp, err := o.llm.Complete(ctx, llm.ChatRequest{
			Model:    o.model,
			Messages: messages,
			Tools:    o.registry.Describe(),
		})
		if err != nil {
			o.logger.Error("completion failed", "session", sess.ID, "error", err)
			return o.finishWithApology(sess, userText, result), nil
		}

		msg := resp.First()
		if len(msg.ToolCalls) == 0 {
			draft = msg.Content
			if !toolsUsed {
				result.States = append(result.States, StateDirectReply)
			}
			break
		}

		toolsUsed = true
		result.States = append(result.States, dispatchState(msg.ToolCalls))
		messages = append(messages, msg)

		for _, call := range msg.ToolCalls {
			obs, fatal := o.dispatch(ctx, sess, call, invalidRetries, &result)
			if fatal {
				return o.finishWithApology(sess, userText, result), nil
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Name:       call.Function.Name,
				Content:    obs,
				ToolCallID: call.ID,
			})
		}
	}

	if draft == "" {
		// The model never settled on a reply within the round budget.
		o.logger.Warn("tool round budget exhausted", "session", sess.ID)
		return o.finishWithApology(sess, userText, result), nil
	}

	result.States = append(result.States, StateResponding)
	result.Reply = o.render(ctx, sess, draft)

	sess.Append(
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: result.Reply},
	)
	return result, nil
}

// dispatchState labels a tool round; a round that consults the document
// index is a retrieval round.
func dispatchState(calls []llm.ToolCall) State {
	for _, call := range calls {
		if call.Function.Name == tools.AskDocumentTool {
			return StateRetrievalQA
		}
	}
	return StateToolDispatch
}

// dispatch invokes one tool call and returns the observation for the
// model. fatal is true when the turn cannot continue.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, call llm.ToolCall, invalidRetries map[string]int, result *TurnResult) (obs string, fatal bool) {
	name := call.Function.Name
	args := json.RawMessage(call.Function.Arguments)

	obs, err := o.registry.Invoke(ctx, sess, name, args)
	if err == nil {
		result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Observation: obs})
		return obs, false
	}

	var invalidErr *tools.InvalidArgumentsError
	if errors.As(err, &invalidErr) {
		result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Error: err.Error()})
		invalidRetries[name]++
		return invalidObservation(invalidErr, invalidRetries[name] == 1), false
	}

	var execErr *tools.ExecutionError
	if errors.As(err, &execErr) {
		// Collaborator hiccups are often transient; try the same call once
		// more before telling the model anything went wrong.
		o.logger.Warn("tool execution failed, retrying", "session", sess.ID, "tool", name, "error", err)
		result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Error: err.Error()})

		obs, err = o.registry.Invoke(ctx, sess, name, args)
		if err == nil {
			result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Observation: obs})
			return obs, false
		}
		o.logger.Error("tool execution failed after retry", "session", sess.ID, "tool", name, "error", err)
		result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Error: err.Error()})
		return executionObservation(err), false
	}

	// Anything else is a registry bug; no observation can describe it.
	o.logger.Error("tool failed unexpectedly", "session", sess.ID, "tool", name, "error", err)
	result.ToolTrace = append(result.ToolTrace, ToolInvocation{Tool: name, Arguments: args, Error: err.Error()})
	return "", true
}

// invalidObservation tells the model what was wrong with its call and
// whether it may correct itself.
func invalidObservation(e *tools.InvalidArgumentsError, retryAllowed bool) string {
	hint := "Do not call this tool again. Explain the problem to the user."
	if retryAllowed {
		hint = "You may correct the arguments and call the tool once more."
	}
	b, _ := json.Marshal(map[string]string{
		"error": e.Reason,
		"hint":  hint,
	})
	return string(b)
}

// executionObservation reports a tool that failed on both attempts. The
// model sees the failure detail and relays it, so the user learns what
// broke instead of getting a blanket apology.
func executionObservation(err error) string {
	b, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"hint": "The tool failed twice and is unavailable this turn. Do not call it again. " +
			"Tell the user what went wrong so they can adjust or try again later.",
	})
	return string(b)
}

// render rewrites the draft in the session's persona. A failed render is
// not worth losing the turn over; the draft ships as-is.
func (o *Orchestrator) render(ctx context.Context, sess *session.Session, draft string) string {
	style := sess.Persona().Style()
	resp, err := o.llm.Complete(ctx, llm.ChatRequest{
		Model: o.model,
		Messages: []llm.Message{
			{Role: "system", Content: composer.RenderPrompt(style)},
			{Role: "user", Content: draft},
		},
	})
	if err != nil {
		o.logger.Warn("persona render failed, using draft", "session", sess.ID, "error", err)
		return draft
	}
	rendered := resp.First().Content
	if rendered == "" {
		return draft
	}
	return rendered
}

// finishWithApology ends the turn with the fixed apology while keeping
// history consistent: the user still said what they said.
func (o *Orchestrator) finishWithApology(sess *session.Session, userText string, result TurnResult) TurnResult {
	result.States = append(result.States, StateResponding)
	result.Reply = ApologyReply
	sess.Append(
		llm.Message{Role: "user", Content: userText},
		llm.Message{Role: "assistant", Content: ApologyReply},
	)
	return result
}
