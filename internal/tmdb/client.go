package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL  = "https://image.tmdb.org/t/p/w500"
	requestTimeout = 10 * time.Second
)

// ErrNoResults is returned when a title search matches nothing.
var ErrNoResults = errors.New("no matching movie")

// Movie is the metadata kino consumes from the provider. Fields beyond
// these are ignored.
type Movie struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	OriginalTitle  string   `json:"original_title,omitempty"`
	Overview       string   `json:"overview,omitempty"`
	Rating         float64  `json:"rating"`
	Genres         []string `json:"genres,omitempty"`
	ReleaseDate    string   `json:"release_date,omitempty"`
	PosterURL      string   `json:"poster_url,omitempty"`
	RuntimeMinutes int      `json:"runtime_minutes"`
}

// Client communicates with the TMDB v3 API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// searchResponse mirrors the JSON returned by GET /search/movie.
type searchResponse struct {
	Results []searchEntry `json:"results"`
}

type searchEntry struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Overview      string  `json:"overview"`
	VoteAverage   float64 `json:"vote_average"`
	ReleaseDate   string  `json:"release_date"`
	PosterPath    string  `json:"poster_path"`
}

// detailsResponse mirrors the JSON returned by GET /movie/{id}.
type detailsResponse struct {
	Runtime     int     `json:"runtime"`
	VoteAverage float64 `json:"vote_average"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

// SearchMovie searches for a title and returns the best match with full
// details (genres and runtime require a second details request).
// Returns ErrNoResults when nothing matches.
func (c *Client) SearchMovie(ctx context.Context, title string) (Movie, error) {
	q := url.Values{}
	q.Set("query", title)
	q.Set("language", "en-US")

	var search searchResponse
	if err := c.get(ctx, "/search/movie", q, &search); err != nil {
		return Movie{}, fmt.Errorf("searching %q: %w", title, err)
	}
	if len(search.Results) == 0 {
		return Movie{}, ErrNoResults
	}

	entry := search.Results[0]

	var details detailsResponse
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", entry.ID), nil, &details); err != nil {
		return Movie{}, fmt.Errorf("fetching details for %q: %w", entry.Title, err)
	}

	genres := make([]string, len(details.Genres))
	for i, g := range details.Genres {
		genres[i] = g.Name
	}

	m := Movie{
		ID:             entry.ID,
		Title:          entry.Title,
		OriginalTitle:  entry.OriginalTitle,
		Overview:       entry.Overview,
		Rating:         details.VoteAverage,
		Genres:         genres,
		ReleaseDate:    entry.ReleaseDate,
		RuntimeMinutes: details.Runtime,
	}
	if entry.PosterPath != "" {
		m.PosterURL = posterBaseURL + entry.PosterPath
	}
	return m, nil
}

// nowPlayingResponse mirrors the JSON returned by GET /movie/now_playing.
type nowPlayingResponse struct {
	Results []searchEntry `json:"results"`
}

// NowPlaying returns the movies currently in cinemas for the given region
// (ISO 3166-1 code, e.g. "US"). Runtime and genres are not populated by
// this endpoint.
func (c *Client) NowPlaying(ctx context.Context, region string) ([]Movie, error) {
	q := url.Values{}
	if region != "" {
		q.Set("region", region)
	}

	var playing nowPlayingResponse
	if err := c.get(ctx, "/movie/now_playing", q, &playing); err != nil {
		return nil, fmt.Errorf("fetching now playing: %w", err)
	}

	movies := make([]Movie, len(playing.Results))
	for i, entry := range playing.Results {
		movies[i] = Movie{
			ID:          entry.ID,
			Title:       entry.Title,
			Overview:    entry.Overview,
			Rating:      entry.VoteAverage,
			ReleaseDate: entry.ReleaseDate,
		}
		if entry.PosterPath != "" {
			movies[i].PosterURL = posterBaseURL + entry.PosterPath
		}
	}
	return movies, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
