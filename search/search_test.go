package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSerp serves /search.json and /searches/{id}.json. Each archive id
// reports "Processing" for pending[id] polls before returning results[id].
type fakeSerp struct {
	mu        sync.Mutex
	nextID    int
	pending   map[string]int
	results   map[string]Result
	submitted []map[string]string
	polled    []string
	status    string
}

func newFakeSerp() *fakeSerp {
	return &fakeSerp{
		pending: map[string]int{},
		results: map[string]Result{},
		status:  "Success",
	}
}

func (f *fakeSerp) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Query().Get("api_key") != "test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Invalid API key"}`)
		return
	}

	switch {
	case r.URL.Path == "/search.json":
		f.nextID++
		id := fmt.Sprintf("search-%d", f.nextID)
		params := map[string]string{}
		for k := range r.URL.Query() {
			params[k] = r.URL.Query().Get(k)
		}
		f.submitted = append(f.submitted, params)
		json.NewEncoder(w).Encode(Result{Metadata: Metadata{ID: id, Status: "Processing"}})

	case strings.HasPrefix(r.URL.Path, "/searches/"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/searches/"), ".json")
		f.polled = append(f.polled, id)
		if f.pending[id] > 0 {
			f.pending[id]--
			json.NewEncoder(w).Encode(Result{Metadata: Metadata{ID: id, Status: "Processing"}})
			return
		}
		res := f.results[id]
		res.Metadata = Metadata{ID: id, Status: f.status}
		json.NewEncoder(w).Encode(res)

	default:
		http.NotFound(w, r)
	}
}

func testConfig(baseURL string) Config {
	return Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		DurationFilter: "EgIYAw%253D%253D",
		Device:         "desktop",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxAttempts:    5,
		Timeout:        5 * time.Second,
		RateLimit:      1000,
	}
}

func videos(titles ...string) []VideoResult {
	out := make([]VideoResult, len(titles))
	for i, t := range titles {
		out[i] = VideoResult{Title: t, Link: "https://www.youtube.com/watch?v=" + fmt.Sprint(i)}
	}
	return out
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SQL Tutorial | Full Course", "SQL Tutorial  Full Course"},
		{`a/b\c?d:e<f>g*h`, "abcdefgh"},
		{"  plain title  ", "plain title"},
		{"|/?:<>\\*", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SanitizeTitle(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, strings.ContainsAny(got, `|/?:<>\*`))
		})
	}
}

func TestSubmit_SendsSearchParameters(t *testing.T) {
	fake := newFakeSerp()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	res, err := client.Submit(context.Background(), "Data Nerd")
	require.NoError(t, err)
	assert.Equal(t, "search-1", res.Metadata.ID)

	require.Len(t, fake.submitted, 1)
	got := fake.submitted[0]
	assert.Equal(t, "youtube", got["engine"])
	assert.Equal(t, "EgIYAw%253D%253D", got["sp"])
	assert.Equal(t, "desktop", got["device"])
	assert.Equal(t, "Data Nerd", got["search_query"])
	assert.Equal(t, "true", got["async"])
}

func TestSubmit_APIError(t *testing.T) {
	srv := httptest.NewServer(newFakeSerp())
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = "wrong"
	_, err := NewClient(cfg, srv.Client()).Submit(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestCollect_LimitsAndDeduplicates(t *testing.T) {
	fake := newFakeSerp()
	fake.results["search-1"] = Result{VideoResults: videos(
		"SQL: basics", "SQL basics", "Joins | explained", "Window functions",
	)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	got, err := client.Collect(context.Background(), "Data Nerd", 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "SQL basics", got[0].Title)
	assert.Equal(t, "Joins  explained", got[1].Title)
}

func TestCollect_RequeuesSameIDUntilComplete(t *testing.T) {
	fake := newFakeSerp()
	fake.pending["search-1"] = 3
	fake.results["search-1"] = Result{VideoResults: videos("one")}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client())
	got, err := client.Collect(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, []string{"search-1", "search-1", "search-1", "search-1"}, fake.polled)
	assert.Len(t, fake.submitted, 1)
}

func TestCollect_CachedStatusCompletes(t *testing.T) {
	fake := newFakeSerp()
	fake.status = "Cached"
	fake.results["search-1"] = Result{VideoResults: videos("one", "two")}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := NewClient(testConfig(srv.URL), srv.Client()).Collect(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, fake.polled, 1)
}

func TestCollect_ExhaustsAttempts(t *testing.T) {
	fake := newFakeSerp()
	fake.pending["search-1"] = 100
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 3
	_, err := NewClient(cfg, srv.Client()).Collect(context.Background(), "q", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollExhausted))
	assert.Len(t, fake.polled, 3)
}

func TestCollect_HonoursCancellation(t *testing.T) {
	fake := newFakeSerp()
	fake.pending["search-1"] = 100
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1000
	cfg.InitialBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := NewClient(cfg, srv.Client()).Collect(ctx, "q", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCollect_FollowsPagination(t *testing.T) {
	fake := newFakeSerp()
	fake.results["search-1"] = Result{
		VideoResults: videos("first"),
		Pagination:   Pagination{Next: "https://serpapi.com/search.json?engine=youtube&search_query=q&sp=PAGE2"},
	}
	fake.results["search-2"] = Result{VideoResults: []VideoResult{
		{Title: "first", Link: "https://www.youtube.com/watch?v=dup"},
		{Title: "second", Link: "https://www.youtube.com/watch?v=2"},
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Pagination = true
	got, err := NewClient(cfg, srv.Client()).Collect(context.Background(), "q", 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, "second", got[1].Title)

	require.Len(t, fake.submitted, 2)
	assert.Equal(t, "PAGE2", fake.submitted[1]["sp"])
	assert.Equal(t, "true", fake.submitted[1]["async"])
	assert.Equal(t, "desktop", fake.submitted[1]["device"])
}

func TestCollect_KeepsFirstPageWhenNextPageNeverCompletes(t *testing.T) {
	fake := newFakeSerp()
	fake.results["search-1"] = Result{
		VideoResults: videos("first"),
		Pagination:   Pagination{Next: "https://serpapi.com/search.json?sp=PAGE2"},
	}
	fake.pending["search-2"] = 1000
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Pagination = true
	got, err := NewClient(cfg, srv.Client()).Collect(context.Background(), "q", 2)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Title)
	assert.Len(t, fake.submitted, 2)
}

func TestCollect_KeepsFirstPageWhenTimeoutHitsNextPage(t *testing.T) {
	fake := newFakeSerp()
	fake.results["search-1"] = Result{
		VideoResults: videos("first"),
		Pagination:   Pagination{Next: "https://serpapi.com/search.json?sp=PAGE2"},
	}
	fake.pending["search-2"] = 1000
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Pagination = true
	cfg.MaxAttempts = 1000
	cfg.InitialBackoff = 20 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.Timeout = 150 * time.Millisecond

	got, err := NewClient(cfg, srv.Client()).Collect(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Title)
}

func TestCollect_PaginationDisabled(t *testing.T) {
	fake := newFakeSerp()
	fake.results["search-1"] = Result{
		VideoResults: videos("first"),
		Pagination:   Pagination{Next: "https://serpapi.com/search.json?sp=PAGE2"},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := NewClient(testConfig(srv.URL), srv.Client()).Collect(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, fake.submitted, 1)
}

func TestAppendUnique_FallbackTitle(t *testing.T) {
	got := appendUnique(nil, newTitleSet(), []VideoResult{
		{Title: "***", Link: "https://www.youtube.com/watch?v=a"},
		{Title: "no link"},
		{Title: "ok", Link: "https://www.youtube.com/watch?v=b"},
	}, 5)

	require.Len(t, got, 2)
	assert.Equal(t, "video-1", got[0].Title)
	assert.Equal(t, "ok", got[1].Title)
}

func TestAppendUnique_RealTitleReclaimsGeneratedName(t *testing.T) {
	titles := newTitleSet()
	got := appendUnique(nil, titles, []VideoResult{
		{Title: "***", Link: "https://www.youtube.com/watch?v=a"},
		{Title: "video-1", Link: "https://www.youtube.com/watch?v=b"},
	}, 5)
	got = appendUnique(got, titles, []VideoResult{
		{Title: "video-2", Link: "https://www.youtube.com/watch?v=c"},
		{Title: "video-1", Link: "https://www.youtube.com/watch?v=d"},
	}, 5)

	require.Len(t, got, 3)
	assert.Equal(t, models.Video{Title: "video-3", Link: "https://www.youtube.com/watch?v=a"}, got[0])
	assert.Equal(t, models.Video{Title: "video-1", Link: "https://www.youtube.com/watch?v=b"}, got[1])
	assert.Equal(t, models.Video{Title: "video-2", Link: "https://www.youtube.com/watch?v=c"}, got[2])
}
