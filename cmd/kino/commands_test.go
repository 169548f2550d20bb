package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSendMessage(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/default/messages": `{"reply":"Alien runs 117 minutes.","states":["interpreting","responding"]}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, sessionPath("/messages"), map[string]string{"text": "how long is Alien?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Reply string `json:"reply"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Reply != "Alien runs 117 minutes." {
		t.Errorf("reply = %q", result.Reply)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["text"] != "how long is Alien?" {
		t.Errorf("body.text = %q", body["text"])
	}
}

func TestUploadPostsRawPDF(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/default/document": `{"id":"doc-1","name":"script.pdf","pages":3,"chunks":7}`,
	})

	client := ts.client()
	resp, err := client.postRaw(ctx, sessionPath("/document")+"?name=script.pdf", "application/pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Pages  int `json:"pages"`
		Chunks int `json:"chunks"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Pages != 3 || result.Chunks != 7 {
		t.Errorf("result = %+v", result)
	}

	r := ts.requests[0]
	if r.ContentType != "application/pdf" {
		t.Errorf("content type = %q", r.ContentType)
	}
	if !strings.Contains(r.Path, "name=script.pdf") {
		t.Errorf("path = %q, want name query param", r.Path)
	}
	if r.Body != "%PDF-1.4" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestScheduleRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/default/schedule": `{"selected":[{"title":"A","duration_minutes":90},{"title":"B","duration_minutes":60}],"total_minutes":150,"unused_minutes":0}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, sessionPath("/schedule"), map[string]any{"budget_minutes": 150, "genre": "horror"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Selected      []json.RawMessage `json:"selected"`
		TotalMinutes  int               `json:"total_minutes"`
		UnusedMinutes int               `json:"unused_minutes"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(result.Selected) != 2 || result.TotalMinutes != 150 {
		t.Errorf("result = %+v", result)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["genre"] != "horror" {
		t.Errorf("body.genre = %v", body["genre"])
	}
}

func TestPersonaSwitch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /sessions/default/persona": `{"persona":"critic"}`,
	})

	client := ts.client()
	resp, err := client.put(ctx, sessionPath("/persona"), map[string]string{"persona": "critic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["persona"] != "critic" {
		t.Errorf("persona = %q", result["persona"])
	}
}

func TestDecodeJSONErrorPayload(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/sessions/default/unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want status in message", err)
	}
}

func TestScheduleCommandRejectsBadMinutes(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"schedule", "ninety"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for non-numeric minutes")
	}
	if !strings.Contains(err.Error(), "invalid minutes") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUploadCommandMissingFile(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"upload", "/nonexistent/file.pdf"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading file") {
		t.Errorf("error = %q", err.Error())
	}
}
