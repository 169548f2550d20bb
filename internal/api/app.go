package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/satriobp/kino/internal/agent"
	"github.com/satriobp/kino/internal/document"
	"github.com/satriobp/kino/internal/persona"
	"github.com/satriobp/kino/internal/schedule"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/storage"
	"github.com/satriobp/kino/internal/watchlist"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxDocumentBodySize = 10 << 20 // 10MB

// TurnRunner drives one conversational turn. *agent.Orchestrator satisfies it.
type TurnRunner interface {
	Turn(ctx context.Context, sess *session.Session, userText string) (agent.TurnResult, error)
}

// DocumentIngestor indexes an uploaded document. *rag.Ingestor satisfies it.
type DocumentIngestor interface {
	Ingest(ctx context.Context, sessionID, name string, data []byte) (storage.Document, error)
}

type AppDeps struct {
	Sessions       *session.Manager
	Agent          TurnRunner
	Ingestor       DocumentIngestor
	Watchlist      *watchlist.Store
	Store          *storage.Store
	Token          string
	DefaultPersona persona.Persona
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Delete("/sessions/{id}", handleEndSession(deps))
		r.Post("/sessions/{id}/messages", handleMessage(deps))
		r.Post("/sessions/{id}/document", handleUploadDocument(deps))
		r.Get("/sessions/{id}/persona", handleGetPersona(deps))
		r.Put("/sessions/{id}/persona", handleSetPersona(deps))
		r.Get("/sessions/{id}/watchlist", handleListWatchlist(deps))
		r.Get("/sessions/{id}/watchlist/export", handleExportWatchlist(deps))
		r.Post("/sessions/{id}/watchlist/import", handleImportWatchlist(deps))
		r.Post("/sessions/{id}/schedule", handleSchedule(deps))
		r.Get("/sessions/{id}/turns", handleListTurns(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ID      string `json:"id"`
			Persona string `json:"persona"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p := deps.DefaultPersona
		if req.Persona != "" {
			parsed, err := persona.Parse(req.Persona)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			p = parsed
		}
		id := req.ID
		if id == "" {
			id = uuid.New().String()
		}

		sess, err := deps.Sessions.Create(id, p)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":      sess.ID,
			"persona": sess.Persona().String(),
		})
	}
}

func handleEndSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Sessions.End(id)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to end session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}

		result, err := deps.Agent.Turn(r.Context(), sess, req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "turn failed: %v", err)
			return
		}

		trace, err := json.Marshal(result.ToolTrace)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal tool trace: %v", err)
			return
		}
		turn := storage.Turn{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			CreatedAt: time.Now().UTC(),
			UserText:  req.Text,
			ReplyText: result.Reply,
			Persona:   sess.Persona().String(),
			ToolTrace: string(trace),
		}
		if err := deps.Store.SaveTurn(turn); err != nil {
			// The turn already happened and is in the session's live
			// history; failing the request now would only make the client
			// resend it. Log and deliver the reply.
			slog.Error("failed to persist turn", "session", sess.ID, "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"reply":      result.Reply,
			"states":     result.States,
			"tool_trace": result.ToolTrace,
		})
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}

		name, data, err := readDocumentBody(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		doc, err := deps.Ingestor.Ingest(r.Context(), sess.ID, name, data)
		if errors.Is(err, document.ErrUnsupportedDocument) {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "not a readable PDF: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingest failed: %v", err)
			return
		}
		sess.SetDocument(doc.ID, doc.Name)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     doc.ID,
			"name":   doc.Name,
			"pages":  doc.PageCount,
			"chunks": doc.ChunkCount,
		})
	}
}

// readDocumentBody accepts either a multipart form with a "file" field or a
// raw PDF body with a name query parameter.
func readDocumentBody(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("reading upload: %w", err)
		}
		return header.Filename, data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("empty request body")
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "document.pdf"
	}
	return name, data, nil
}

func handleGetPersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"persona": sess.Persona().String()})
	}
}

func handleSetPersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Persona string `json:"persona"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		p, err := persona.Parse(req.Persona)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		err = deps.Sessions.SetPersona(chi.URLParam(r, "id"), p)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set persona: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"persona": p.String()})
	}
}

func handleListWatchlist(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Watchlist.List(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list watchlist: %v", err)
			return
		}
		if items == nil {
			items = []watchlist.Item{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}
}

func handleExportWatchlist(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := deps.Watchlist.Export(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to export watchlist: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func handleImportWatchlist(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		count, err := deps.Watchlist.Import(chi.URLParam(r, "id"), data)
		if errors.Is(err, watchlist.ErrInvalidImportFormat) {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "invalid import payload: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "import failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"imported": count})
	}
}

func handleSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			BudgetMinutes int      `json:"budget_minutes"`
			Genre         string   `json:"genre"`
			Titles        []string `json:"titles"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.BudgetMinutes <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "budget_minutes must be positive")
			return
		}

		items, err := deps.Watchlist.List(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list watchlist: %v", err)
			return
		}

		result, err := schedule.Plan(items, req.BudgetMinutes, schedule.Options{
			Genre:  req.Genre,
			Titles: req.Titles,
		})
		if errors.Is(err, schedule.ErrNoEligibleItems) {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "no watchlist items match the request")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func handleListTurns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		turns, err := deps.Store.ListTurns(chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list turns: %v", err)
			return
		}

		type turnView struct {
			ID        string          `json:"id"`
			CreatedAt string          `json:"created_at"`
			UserText  string          `json:"user_text"`
			ReplyText string          `json:"reply_text"`
			Persona   string          `json:"persona"`
			ToolTrace json.RawMessage `json:"tool_trace,omitempty"`
		}
		views := make([]turnView, len(turns))
		for i, t := range turns {
			views[i] = turnView{
				ID:        t.ID,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
				UserText:  t.UserText,
				ReplyText: t.ReplyText,
				Persona:   t.Persona,
				ToolTrace: json.RawMessage(t.ToolTrace),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
