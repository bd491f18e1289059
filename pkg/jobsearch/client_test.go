package jobsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toolwatch/internal/resilience"
)

func pageResponse(ids ...string) searchResponse {
	items := make([]searchItem, len(ids))
	for i, id := range ids {
		items[i] = searchItem{
			JobID:       id,
			Publisher:   "LinkedIn",
			Employer:    "Acme Corp",
			Title:       "Account Executive",
			Description: "Experience with Outreach",
			ApplyLink:   "https://jobs/" + id,
			PostedAtTS:  1755000000,
		}
	}
	return searchResponse{Status: "OK", Data: items}
}

func TestSearchSinglePage(t *testing.T) {
	var gotQuery, gotKey, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.Header.Get("X-RapidAPI-Key")
		gotHost = r.Header.Get("X-RapidAPI-Host")
		if r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(pageResponse("a", "b"))
			return
		}
		json.NewEncoder(w).Encode(pageResponse())
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL), WithHost("jsearch.test"), WithPageLimit(3))
	postings, err := c.Search(context.Background(), "outreach.io")
	require.NoError(t, err)

	assert.Equal(t, "outreach.io", gotQuery)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "jsearch.test", gotHost)
	require.Len(t, postings, 2)
	assert.Equal(t, "a", postings[0].JobID)
	assert.Equal(t, "Acme Corp", postings[0].Company)
	assert.Equal(t, "LinkedIn", postings[0].Platform)
	assert.False(t, postings[0].PostedAt.IsZero())
}

func TestSearchPaginatesUntilLimit(t *testing.T) {
	pages := map[string][]string{"1": {"a", "b"}, "2": {"c"}, "3": {"d"}, "4": {"e"}}
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		json.NewEncoder(w).Encode(pageResponse(pages[page]...))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithPageLimit(2))
	postings, err := c.Search(context.Background(), "salesloft")
	require.NoError(t, err)
	assert.Len(t, postings, 3)
	assert.Equal(t, []string{"1", "2"}, requested)
}

func TestSearchStopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(pageResponse("a"))
			return
		}
		json.NewEncoder(w).Encode(pageResponse())
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithPageLimit(5))
	postings, err := c.Search(context.Background(), "outreach")
	require.NoError(t, err)
	assert.Len(t, postings, 1)
}

func TestSearchRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "outreach")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearchBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "outreach")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
