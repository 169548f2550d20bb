package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/satriobp/kino/internal/agent"
	"github.com/satriobp/kino/internal/document"
	"github.com/satriobp/kino/internal/persona"
	"github.com/satriobp/kino/internal/session"
	"github.com/satriobp/kino/internal/storage"
	"github.com/satriobp/kino/internal/watchlist"
)

const testToken = "test-token-12345"

type stubAgent struct {
	result agent.TurnResult
	err    error
}

func (s *stubAgent) Turn(_ context.Context, _ *session.Session, _ string) (agent.TurnResult, error) {
	return s.result, s.err
}

type stubIngestor struct {
	doc storage.Document
	err error
}

func (s *stubIngestor) Ingest(_ context.Context, sessionID, name string, _ []byte) (storage.Document, error) {
	if s.err != nil {
		return storage.Document{}, s.err
	}
	doc := s.doc
	doc.SessionID = sessionID
	doc.Name = name
	return doc, nil
}

func setupApp(t *testing.T, runner TurnRunner, ing DocumentIngestor) (http.Handler, *storage.Store, *watchlist.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	wl := watchlist.NewStore(store)
	h := NewAppHandler(AppDeps{
		Sessions:       session.NewManager(store),
		Agent:          runner,
		Ingestor:       ing,
		Watchlist:      wl,
		Store:          store,
		Token:          testToken,
		DefaultPersona: persona.Casual,
	})
	return h, store, wl
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func createSession(t *testing.T, h http.Handler, id string) {
	t.Helper()
	rr := do(t, h, authReq(http.MethodPost, "/sessions", fmt.Sprintf(`{"id":%q}`, id), testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("create session: status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestHealthNoAuth(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, authReq(http.MethodPost, "/sessions", `{}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = do(t, h, authReq(http.MethodPost, "/sessions", `{}`, "wrong-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, authReq(http.MethodPost, "/sessions", `{}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["id"] == "" {
		t.Fatal("response missing id")
	}
	if resp["persona"] != "casual" {
		t.Errorf("persona = %q, want %q", resp["persona"], "casual")
	}
}

func TestCreateSessionIdempotent(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, authReq(http.MethodPost, "/sessions", `{"id":"s1","persona":"critic"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	// A second create with no persona keeps the existing session as-is.
	rr = do(t, h, authReq(http.MethodPost, "/sessions", `{"id":"s1"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["persona"] != "critic" {
		t.Errorf("persona = %q, want %q", resp["persona"], "critic")
	}
}

func TestCreateSessionBadPersona(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, authReq(http.MethodPost, "/sessions", `{"persona":"sarcastic"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestEndSession(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodDelete, "/sessions/s1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, authReq(http.MethodDelete, "/sessions/s1", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestMessageRunsTurnAndPersists(t *testing.T) {
	runner := &stubAgent{result: agent.TurnResult{
		Reply:  "Sure, Alien is 117 minutes.",
		States: []agent.State{agent.StateInterpreting, agent.StateToolDispatch, agent.StateResponding},
		ToolTrace: []agent.ToolInvocation{
			{Tool: "search_movie", Arguments: json.RawMessage(`{"query":"Alien"}`), Observation: `{"title":"Alien"}`},
		},
	}}
	h, store, _ := setupApp(t, runner, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/messages", `{"text":"how long is Alien?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Reply     string   `json:"reply"`
		States    []string `json:"states"`
		ToolTrace []struct {
			Tool string `json:"tool"`
		} `json:"tool_trace"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Reply != "Sure, Alien is 117 minutes." {
		t.Errorf("reply = %q", resp.Reply)
	}
	if len(resp.States) != 3 || resp.States[1] != "tool_dispatch" {
		t.Errorf("states = %v", resp.States)
	}
	if len(resp.ToolTrace) != 1 || resp.ToolTrace[0].Tool != "search_movie" {
		t.Errorf("tool_trace = %v", resp.ToolTrace)
	}

	turns, err := store.ListTurns("s1", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].UserText != "how long is Alien?" || turns[0].ReplyText != resp.Reply {
		t.Errorf("persisted turn = %+v", turns[0])
	}
}

func TestMessageRequiresText(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/messages", `{}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestMessagePersistFailureStillReplies(t *testing.T) {
	runner := &stubAgent{result: agent.TurnResult{
		Reply:  "Noted.",
		States: []agent.State{agent.StateInterpreting, agent.StateDirectReply, agent.StateResponding},
	}}
	h, store, _ := setupApp(t, runner, &stubIngestor{})
	createSession(t, h, "s1")

	// Drop the session row out from under the turn log's foreign key; the
	// live session stays in the manager, so the turn still runs but
	// persisting it fails.
	if err := store.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/messages", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Reply string `json:"reply"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Reply != "Noted." {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestMessageUnknownSession(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})

	rr := do(t, h, authReq(http.MethodPost, "/sessions/nope/messages", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUploadDocument(t *testing.T) {
	ing := &stubIngestor{doc: storage.Document{ID: "doc-1", PageCount: 3, ChunkCount: 7}}
	h, _, _ := setupApp(t, &stubAgent{}, ing)
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/document?name=script.pdf", "%PDF-1.4 fake", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Pages  int    `json:"pages"`
		Chunks int    `json:"chunks"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.ID != "doc-1" || resp.Name != "script.pdf" || resp.Pages != 3 || resp.Chunks != 7 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUploadDocumentUnsupported(t *testing.T) {
	ing := &stubIngestor{err: fmt.Errorf("parsing pdf: %w", document.ErrUnsupportedDocument)}
	h, _, _ := setupApp(t, &stubAgent{}, ing)
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/document", "not a pdf", testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
}

func TestUploadDocumentEmptyBody(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/document", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestPersonaRoundTrip(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPut, "/sessions/s1/persona", `{"persona":"critic"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("put: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, authReq(http.MethodGet, "/sessions/s1/persona", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["persona"] != "critic" {
		t.Errorf("persona = %q, want %q", resp["persona"], "critic")
	}
}

func TestSetPersonaInvalid(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPut, "/sessions/s1/persona", `{"persona":"noir"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestWatchlistListEmpty(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodGet, "/sessions/s1/watchlist", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestWatchlistExportImport(t *testing.T) {
	h, _, wl := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")
	createSession(t, h, "s2")

	if _, err := wl.Add("s1", watchlist.Item{Title: "Alien", DurationMinutes: 117, Genres: []string{"horror"}}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rr := do(t, h, authReq(http.MethodGet, "/sessions/s1/watchlist/export", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("export: status = %d", rr.Code)
	}
	exported := rr.Body.String()

	rr = do(t, h, authReq(http.MethodPost, "/sessions/s2/watchlist/import", exported, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("import: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["imported"] != 1 {
		t.Errorf("imported = %d, want 1", resp["imported"])
	}

	items, err := wl.List("s2")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Alien" {
		t.Errorf("items = %+v", items)
	}
}

func TestWatchlistImportInvalid(t *testing.T) {
	h, _, wl := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	if _, err := wl.Add("s1", watchlist.Item{Title: "Keep Me", DurationMinutes: 90}); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/watchlist/import", `{"items":[{"title":""}]}`, testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}

	items, _ := wl.List("s1")
	if len(items) != 1 || items[0].Title != "Keep Me" {
		t.Errorf("watchlist changed on failed import: %+v", items)
	}
}

func TestSchedule(t *testing.T) {
	h, _, wl := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	for _, it := range []watchlist.Item{
		{Title: "A", DurationMinutes: 90},
		{Title: "B", DurationMinutes: 60},
		{Title: "C", DurationMinutes: 45},
	} {
		if _, err := wl.Add("s1", it); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/schedule", `{"budget_minutes":150}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Selected []struct {
			Title string `json:"title"`
		} `json:"selected"`
		TotalMinutes  int `json:"total_minutes"`
		UnusedMinutes int `json:"unused_minutes"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.TotalMinutes != 150 || resp.UnusedMinutes != 0 {
		t.Errorf("total = %d, unused = %d", resp.TotalMinutes, resp.UnusedMinutes)
	}
	if len(resp.Selected) != 2 {
		t.Errorf("selected = %+v", resp.Selected)
	}
}

func TestScheduleBadBudget(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/schedule", `{"budget_minutes":0}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestScheduleEmptyWatchlist(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/schedule", `{"budget_minutes":120}`, testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
}

func TestTurnFailureSurfacesAsAPIError(t *testing.T) {
	h, _, _ := setupApp(t, &stubAgent{err: errors.New("model exploded")}, &stubIngestor{})
	createSession(t, h, "s1")

	rr := do(t, h, authReq(http.MethodPost, "/sessions/s1/messages", `{"text":"hi"}`, testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Error.Type != "api_error" {
		t.Errorf("error type = %q", resp.Error.Type)
	}
}
