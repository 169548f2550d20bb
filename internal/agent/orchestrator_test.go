package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/tmdb"
	"github.com/satriobp/kino/internal/tools"
	"github.com/satriobp/kino/internal/watchlist"
)

// step is one scripted completion: either a response or an error.
type step struct {
	resp llm.ChatResponse
	err  error
}

// scriptedLLM replays a fixed sequence of completions and records every
// request it saw.
type scriptedLLM struct {
	t     *testing.T
	steps []step
	calls []llm.ChatRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	s.calls = append(s.calls, req)
	if len(s.steps) == 0 {
		s.t.Fatal("scripted LLM ran out of steps")
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	return next.resp, next.err
}

func textResp(content string) step {
	return step{resp: llm.ChatResponse{Choices: []llm.Choice{{
		Message: llm.Message{Role: "assistant", Content: content},
	}}}}
}

func toolResp(id, name, args string) step {
	return step{resp: llm.ChatResponse{Choices: []llm.Choice{{
		Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID: id, Type: "function",
			Function: llm.FunctionCall{Name: name, Arguments: args},
		}}},
		FinishReason: "tool_calls",
	}}}}
}

type fakeMovies struct {
	searchFunc func(ctx context.Context, title string) (tmdb.Movie, error)
}

func (f *fakeMovies) SearchMovie(ctx context.Context, title string) (tmdb.Movie, error) {
	return f.searchFunc(ctx, title)
}

func (f *fakeMovies) NowPlaying(ctx context.Context, region string) ([]tmdb.Movie, error) {
	return nil, nil
}

type fakeWatchlist struct{}

func (fakeWatchlist) Add(sessionID string, item watchlist.Item) (watchlist.Item, error) {
	return item, nil
}
func (fakeWatchlist) Remove(sessionID, title string) error          { return nil }
func (fakeWatchlist) List(sessionID string) ([]watchlist.Item, error) { return nil, nil }

func newRegistry(movies tools.MovieSource) *tools.Registry {
	return tools.NewRegistry(tools.Deps{Movies: movies, Watchlist: fakeWatchlist{}})
}

func statesEqual(got []State, want ...State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestTurnDirectReply(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		textResp("Heat is a classic."),
		textResp("Heat is an all-timer, trust me."),
	}}
	o := New(client, "m", newRegistry(nil), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "is Heat any good?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != "Heat is an all-timer, trust me." {
		t.Errorf("reply = %q", result.Reply)
	}
	if !statesEqual(result.States, StateInterpreting, StateDirectReply, StateResponding) {
		t.Errorf("states = %v", result.States)
	}
	if len(result.ToolTrace) != 0 {
		t.Errorf("trace = %+v", result.ToolTrace)
	}

	history := sess.History()
	if len(history) != 2 || history[0].Content != "is Heat any good?" || history[1].Content != result.Reply {
		t.Errorf("history = %+v", history)
	}
}

func TestTurnToolRoundTrip(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "search_movie", `{"query":"Heat"}`),
		textResp("Heat (1995) runs 170 minutes."),
		textResp("Heat (1995) runs 170 minutes, settle in."),
	}}
	movies := &fakeMovies{searchFunc: func(ctx context.Context, title string) (tmdb.Movie, error) {
		return tmdb.Movie{ID: 949, Title: "Heat", RuntimeMinutes: 170}, nil
	}}
	o := New(client, "m", newRegistry(movies), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "how long is Heat?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !statesEqual(result.States, StateInterpreting, StateToolDispatch, StateResponding) {
		t.Errorf("states = %v", result.States)
	}
	if len(result.ToolTrace) != 1 || result.ToolTrace[0].Tool != "search_movie" {
		t.Fatalf("trace = %+v", result.ToolTrace)
	}
	if !strings.Contains(result.ToolTrace[0].Observation, "170") {
		t.Errorf("observation = %q", result.ToolTrace[0].Observation)
	}

	// The second completion must carry the observation as a tool message.
	second := client.calls[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("observation message = %+v", last)
	}

	// Tool chatter stays out of durable history.
	if got := len(sess.History()); got != 2 {
		t.Errorf("history has %d messages, want 2", got)
	}
}

func TestTurnInvalidArgumentsRetriedOnce(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "search_movie", `{"quary":"Heat"}`),
		toolResp("call_2", "search_movie", `{"query":"Heat"}`),
		textResp("Found it."),
		textResp("Found it!"),
	}}
	movies := &fakeMovies{searchFunc: func(ctx context.Context, title string) (tmdb.Movie, error) {
		return tmdb.Movie{Title: "Heat"}, nil
	}}
	o := New(client, "m", newRegistry(movies), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "find Heat")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != "Found it!" {
		t.Errorf("reply = %q", result.Reply)
	}

	if len(result.ToolTrace) != 2 {
		t.Fatalf("trace = %+v", result.ToolTrace)
	}
	if result.ToolTrace[0].Error == "" {
		t.Error("first invocation should record the argument error")
	}
	if result.ToolTrace[1].Error != "" {
		t.Errorf("second invocation should succeed: %+v", result.ToolTrace[1])
	}

	// The model was told it may retry.
	second := client.calls[1]
	obsMsg := second.Messages[len(second.Messages)-1]
	if !strings.Contains(obsMsg.Content, "once more") {
		t.Errorf("retry hint missing: %q", obsMsg.Content)
	}
}

func TestTurnSecondInvalidCallIsNotRetryable(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "search_movie", `{}`),
		toolResp("call_2", "search_movie", `{}`),
		textResp("I could not search for that."),
		textResp("I could not search for that, sorry."),
	}}
	o := New(client, "m", newRegistry(nil), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "find it")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != "I could not search for that, sorry." {
		t.Errorf("reply = %q", result.Reply)
	}

	third := client.calls[2]
	obsMsg := third.Messages[len(third.Messages)-1]
	if !strings.Contains(obsMsg.Content, "Do not call this tool again") {
		t.Errorf("stop hint missing: %q", obsMsg.Content)
	}
}

func TestTurnExecutionErrorRetriedOnce(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "search_movie", `{"query":"Heat"}`),
		textResp("Heat (1995) runs 170 minutes."),
		textResp("Heat (1995) runs 170 minutes, settle in."),
	}}
	attempts := 0
	movies := &fakeMovies{searchFunc: func(ctx context.Context, title string) (tmdb.Movie, error) {
		attempts++
		if attempts == 1 {
			return tmdb.Movie{}, errors.New("503 service unavailable")
		}
		return tmdb.Movie{ID: 949, Title: "Heat", RuntimeMinutes: 170}, nil
	}}
	o := New(client, "m", newRegistry(movies), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "how long is Heat?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if attempts != 2 {
		t.Errorf("search attempts = %d, want 2", attempts)
	}
	if result.Reply != "Heat (1995) runs 170 minutes, settle in." {
		t.Errorf("reply = %q", result.Reply)
	}

	// The trace records the failed attempt and the successful retry.
	if len(result.ToolTrace) != 2 {
		t.Fatalf("trace = %+v", result.ToolTrace)
	}
	if result.ToolTrace[0].Error == "" {
		t.Error("first attempt should record the failure")
	}
	if !strings.Contains(result.ToolTrace[1].Observation, "170") {
		t.Errorf("retry observation = %q", result.ToolTrace[1].Observation)
	}

	// The model never saw the hiccup; it got the real observation.
	second := client.calls[1]
	obsMsg := second.Messages[len(second.Messages)-1]
	if obsMsg.Role != "tool" || !strings.Contains(obsMsg.Content, "170") {
		t.Errorf("observation message = %+v", obsMsg)
	}
}

func TestTurnExecutionErrorSurfacedAfterRetry(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "search_movie", `{"query":"Heat"}`),
		textResp("I could not reach the movie database just now."),
		textResp("I could not reach the movie database just now, try again in a bit."),
	}}
	attempts := 0
	movies := &fakeMovies{searchFunc: func(ctx context.Context, title string) (tmdb.Movie, error) {
		attempts++
		return tmdb.Movie{}, errors.New("connection refused")
	}}
	o := New(client, "m", newRegistry(movies), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "find Heat")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if attempts != 2 {
		t.Errorf("search attempts = %d, want 2", attempts)
	}
	if result.Reply == ApologyReply {
		t.Error("a failed tool should be explained, not papered over")
	}
	if result.Reply != "I could not reach the movie database just now, try again in a bit." {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.States[len(result.States)-1] != StateResponding {
		t.Errorf("states = %v", result.States)
	}
	if len(result.ToolTrace) != 2 || result.ToolTrace[1].Error == "" {
		t.Errorf("trace = %+v", result.ToolTrace)
	}

	// The model gets the failure as a structured observation with detail.
	second := client.calls[1]
	obsMsg := second.Messages[len(second.Messages)-1]
	if obsMsg.Role != "tool" {
		t.Fatalf("observation message = %+v", obsMsg)
	}
	if !strings.Contains(obsMsg.Content, "connection refused") {
		t.Errorf("failure detail missing: %q", obsMsg.Content)
	}
	if !strings.Contains(obsMsg.Content, "Do not call it again") {
		t.Errorf("stop hint missing: %q", obsMsg.Content)
	}

	// History keeps the exchange so the user can retry naturally.
	history := sess.History()
	if len(history) != 2 || history[1].Content != result.Reply {
		t.Errorf("history = %+v", history)
	}
}

func TestTurnCompletionFailureApologizes(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		{err: errors.New("upstream 500")},
	}}
	o := New(client, "m", newRegistry(nil), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "hello")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != ApologyReply {
		t.Errorf("reply = %q", result.Reply)
	}
}

func TestTurnRetrievalState(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("call_1", "ask_document", `{"question":"who is Neil?"}`),
		textResp("The document has no answer."),
		textResp("The document has no answer, friend."),
	}}
	// No document attached, so the tool reports a soft failure.
	o := New(client, "m", newRegistry(nil), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "who is Neil in the script?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !statesEqual(result.States, StateInterpreting, StateRetrievalQA, StateResponding) {
		t.Errorf("states = %v", result.States)
	}
}

func TestTurnRenderFailureFallsBackToDraft(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		textResp("the facts, plainly"),
		{err: errors.New("render failed")},
	}}
	o := New(client, "m", newRegistry(nil), 0)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "hi")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != "the facts, plainly" {
		t.Errorf("reply = %q, want the unrendered draft", result.Reply)
	}
}

func TestTurnRoundBudgetExhausted(t *testing.T) {
	client := &scriptedLLM{t: t, steps: []step{
		toolResp("c1", "show_watchlist", `{}`),
		toolResp("c2", "show_watchlist", `{}`),
	}}
	o := New(client, "m", newRegistry(nil), 2)
	sess := &session.Session{ID: "s1"}

	result, err := o.Turn(context.Background(), sess, "loop forever")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if result.Reply != ApologyReply {
		t.Errorf("reply = %q", result.Reply)
	}
}
