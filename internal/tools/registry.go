// Package tools is the registry of callable tools the model can dispatch
// during a turn. Soft domain failures (duplicates, empty results) become
// explanatory observations; only broken collaborators surface as errors.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/rag"
	"github.com/satriobp/kino/internal/schedule"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/tmdb"
	"github.com/satriobp/kino/internal/watchlist"
)

// AskDocumentTool is the retrieval tool's name; the orchestrator treats
// its dispatch as a retrieval turn.
const AskDocumentTool = "ask_document"

// MovieSource looks up movie metadata. *tmdb.Client satisfies it.
type MovieSource interface {
	SearchMovie(ctx context.Context, title string) (tmdb.Movie, error)
	NowPlaying(ctx context.Context, region string) ([]tmdb.Movie, error)
}

// Watchlist is the watchlist surface tools need. *watchlist.Store
// satisfies it.
type Watchlist interface {
	Add(sessionID string, item watchlist.Item) (watchlist.Item, error)
	Remove(sessionID, title string) error
	List(sessionID string) ([]watchlist.Item, error)
}

// DocumentQA answers questions about the indexed document. *rag.Answerer
// satisfies it.
type DocumentQA interface {
	Answer(ctx context.Context, documentID, question string) (rag.Answer, error)
}

// Deps are the collaborators behind the tools.
type Deps struct {
	Movies    MovieSource
	Watchlist Watchlist
	Answerer  DocumentQA
}

// Registry holds the tool set and dispatches calls.
type Registry struct {
	deps Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps}
}

// Describe returns the tool declarations sent to the model.
func (r *Registry) Describe() []llm.Tool {
	return []llm.Tool{
		llm.FunctionTool(llm.Function{
			Name:        "search_movie",
			Description: "Look up a movie by title. Returns title, overview, rating, runtime, genres, and poster.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"query": {Type: "string", Description: "The movie title to search for."},
				},
				Required: []string{"query"},
			},
		}),
		llm.FunctionTool(llm.Function{
			Name:        "now_playing",
			Description: "List movies currently showing in cinemas.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"region": {Type: "string", Description: "Optional ISO 3166-1 country code, e.g. US or ID."},
				},
			},
		}),
		llm.FunctionTool(llm.Function{
			Name:        "add_to_watchlist",
			Description: "Add a movie to the user's watchlist by title. Metadata is looked up automatically.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"title": {Type: "string", Description: "The movie title to add."},
				},
				Required: []string{"title"},
			},
		}),
		llm.FunctionTool(llm.Function{
			Name:        "remove_from_watchlist",
			Description: "Remove a movie from the user's watchlist by title.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"title": {Type: "string", Description: "The movie title to remove."},
				},
				Required: []string{"title"},
			},
		}),
		llm.FunctionTool(llm.Function{
			Name:        "show_watchlist",
			Description: "Show the user's watchlist in the order movies were added.",
			Parameters:  llm.Schema{Type: "object"},
		}),
		llm.FunctionTool(llm.Function{
			Name:        "plan_schedule",
			Description: "Build a viewing schedule from the watchlist that best fills a time budget without exceeding it.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"budget_minutes": {Type: "integer", Description: "Total available minutes. Must be positive."},
					"genre":          {Type: "string", Description: "Optional genre filter, e.g. sci-fi."},
					"titles":         {Type: "array", Description: "Optional list of titles to restrict the plan to.", Items: &llm.Property{Type: "string"}},
				},
				Required: []string{"budget_minutes"},
			},
		}),
		llm.FunctionTool(llm.Function{
			Name:        AskDocumentTool,
			Description: "Answer a question about the uploaded movie document, grounded in its text with page citations.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"question": {Type: "string", Description: "The question to answer from the document."},
				},
				Required: []string{"question"},
			},
		}),
	}
}

// Invoke dispatches a named tool call and returns the observation for the
// model. Errors are either *InvalidArgumentsError or *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, sess *session.Session, name string, args json.RawMessage) (string, error) {
	switch name {
	case "search_movie":
		return r.searchMovie(ctx, name, args)
	case "now_playing":
		return r.nowPlaying(ctx, name, args)
	case "add_to_watchlist":
		return r.addToWatchlist(ctx, sess, name, args)
	case "remove_from_watchlist":
		return r.removeFromWatchlist(sess, name, args)
	case "show_watchlist":
		return r.showWatchlist(sess, name)
	case "plan_schedule":
		return r.planSchedule(sess, name, args)
	case AskDocumentTool:
		return r.askDocument(ctx, sess, name, args)
	default:
		return "", &InvalidArgumentsError{Tool: name, Reason: "unknown tool"}
	}
}

// decodeArgs strictly decodes a tool's argument JSON into dst.
func decodeArgs(tool string, args json.RawMessage, dst any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &InvalidArgumentsError{Tool: tool, Reason: err.Error()}
	}
	return nil
}

// observation marshals v as the tool's JSON result.
func observation(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding observation: %w", err)
	}
	return string(b), nil
}

// softFailure is an observation describing a domain-level problem the
// model should explain to the user.
func softFailure(msg string) (string, error) {
	return observation(map[string]string{"error": msg})
}

func (r *Registry) searchMovie(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "query must not be empty"}
	}

	movie, err := r.deps.Movies.SearchMovie(ctx, in.Query)
	if err != nil {
		if errors.Is(err, tmdb.ErrNoResults) {
			return softFailure(fmt.Sprintf("no movie found matching %q", in.Query))
		}
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	return observation(movie)
}

func (r *Registry) nowPlaying(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	var in struct {
		Region string `json:"region"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}

	movies, err := r.deps.Movies.NowPlaying(ctx, in.Region)
	if err != nil {
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	if len(movies) == 0 {
		return softFailure("no cinema listings available right now")
	}
	// Keep the observation small; ten listings is plenty for a reply.
	if len(movies) > 10 {
		movies = movies[:10]
	}
	return observation(map[string]any{"movies": movies})
}

func (r *Registry) addToWatchlist(ctx context.Context, sess *session.Session, tool string, args json.RawMessage) (string, error) {
	var in struct {
		Title string `json:"title"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Title) == "" {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "title must not be empty"}
	}

	movie, err := r.deps.Movies.SearchMovie(ctx, in.Title)
	if err != nil {
		if errors.Is(err, tmdb.ErrNoResults) {
			return softFailure(fmt.Sprintf("no movie found matching %q, nothing was added", in.Title))
		}
		return "", &ExecutionError{Tool: tool, Err: err}
	}

	item, err := r.deps.Watchlist.Add(sess.ID, watchlist.Item{
		Title:           movie.Title,
		TMDBID:          movie.ID,
		DurationMinutes: movie.RuntimeMinutes,
		Genres:          movie.Genres,
		Rating:          movie.Rating,
	})
	if err != nil {
		if errors.Is(err, watchlist.ErrDuplicateItem) {
			return softFailure(fmt.Sprintf("%q is already on the watchlist", movie.Title))
		}
		if errors.Is(err, watchlist.ErrInvalidImportFormat) {
			return softFailure(fmt.Sprintf("%q has no usable runtime, it cannot be added", movie.Title))
		}
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	return observation(map[string]any{"added": item})
}

func (r *Registry) removeFromWatchlist(sess *session.Session, tool string, args json.RawMessage) (string, error) {
	var in struct {
		Title string `json:"title"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Title) == "" {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "title must not be empty"}
	}

	if err := r.deps.Watchlist.Remove(sess.ID, in.Title); err != nil {
		if errors.Is(err, watchlist.ErrNotFound) {
			return softFailure(fmt.Sprintf("%q is not on the watchlist", in.Title))
		}
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	return observation(map[string]string{"removed": in.Title})
}

func (r *Registry) showWatchlist(sess *session.Session, tool string) (string, error) {
	items, err := r.deps.Watchlist.List(sess.ID)
	if err != nil {
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	return observation(map[string]any{"items": items})
}

func (r *Registry) planSchedule(sess *session.Session, tool string, args json.RawMessage) (string, error) {
	var in struct {
		BudgetMinutes int      `json:"budget_minutes"`
		Genre         string   `json:"genre"`
		Titles        []string `json:"titles"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}
	if in.BudgetMinutes <= 0 {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "budget_minutes must be positive"}
	}

	items, err := r.deps.Watchlist.List(sess.ID)
	if err != nil {
		return "", &ExecutionError{Tool: tool, Err: err}
	}

	result, err := schedule.Plan(items, in.BudgetMinutes, schedule.Options{Genre: in.Genre, Titles: in.Titles})
	if err != nil {
		if errors.Is(err, schedule.ErrNoEligibleItems) {
			return softFailure("no watchlist items match the requested filters, so no schedule can be planned")
		}
		return "", &ExecutionError{Tool: tool, Err: err}
	}
	return observation(result)
}

func (r *Registry) askDocument(ctx context.Context, sess *session.Session, tool string, args json.RawMessage) (string, error) {
	var in struct {
		Question string `json:"question"`
	}
	if err := decodeArgs(tool, args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Question) == "" {
		return "", &InvalidArgumentsError{Tool: tool, Reason: "question must not be empty"}
	}

	docID, docName, ok := sess.Document()
	if !ok {
		return softFailure("no document has been uploaded in this session")
	}

	answer, err := r.deps.Answerer.Answer(ctx, docID, in.Question)
	if err != nil {
		return "", &ExecutionError{Tool: tool, Err: err}
	}

	pages := make([]int, 0, len(answer.Chunks))
	for _, ch := range answer.Chunks {
		pages = append(pages, ch.Page)
	}
	return observation(map[string]any{
		"document": docName,
		"answer":   answer.Text,
		"grounded": answer.Grounded,
		"pages":    pages,
	})
}
