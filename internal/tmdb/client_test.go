package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewClientWithBaseURL("test-key", srv.URL)
}

func TestSearchMovie(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q", got)
		}
		switch r.URL.Path {
		case "/search/movie":
			if got := r.URL.Query().Get("query"); got != "Heat" {
				t.Errorf("query = %q, want Heat", got)
			}
			w.Write([]byte(`{"results":[{"id":949,"title":"Heat","original_title":"Heat","overview":"A heist thriller.","vote_average":7.9,"release_date":"1995-12-15","poster_path":"/heat.jpg"}]}`))
		case "/movie/949":
			w.Write([]byte(`{"runtime":170,"vote_average":7.9,"genres":[{"name":"Action"},{"name":"Crime"}]}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	m, err := c.SearchMovie(context.Background(), "Heat")
	if err != nil {
		t.Fatalf("SearchMovie: %v", err)
	}
	if m.Title != "Heat" || m.ID != 949 {
		t.Errorf("got %+v", m)
	}
	if m.RuntimeMinutes != 170 {
		t.Errorf("runtime = %d, want 170", m.RuntimeMinutes)
	}
	if len(m.Genres) != 2 || m.Genres[0] != "Action" {
		t.Errorf("genres = %v", m.Genres)
	}
	if m.PosterURL != posterBaseURL+"/heat.jpg" {
		t.Errorf("poster = %q", m.PosterURL)
	}
}

func TestSearchMovieNoResults(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	_, err := c.SearchMovie(context.Background(), "definitely not a movie")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("got %v, want ErrNoResults", err)
	}
}

func TestSearchMovieUpstreamFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.SearchMovie(context.Background(), "Heat"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNowPlaying(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/now_playing" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("region"); got != "ID" {
			t.Errorf("region = %q, want ID", got)
		}
		w.Write([]byte(`{"results":[{"id":1,"title":"First"},{"id":2,"title":"Second"}]}`))
	})

	movies, err := c.NowPlaying(context.Background(), "ID")
	if err != nil {
		t.Fatalf("NowPlaying: %v", err)
	}
	if len(movies) != 2 {
		t.Fatalf("got %d movies, want 2", len(movies))
	}
	if movies[0].Title != "First" || movies[1].Title != "Second" {
		t.Errorf("got %+v", movies)
	}
}
