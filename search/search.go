package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nijaru/yt-mentions/models"
	"github.com/nijaru/yt-mentions/validation"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	engineYouTube = "youtube"
	backoffFactor = 2.0
)

// ErrPollExhausted is returned when a search never reached a completed
// status within the configured attempts.
var ErrPollExhausted = errors.New("search did not complete")

var completedStatus = regexp.MustCompile(`Cached|Success`)

type Config struct {
	APIKey         string
	BaseURL        string
	DurationFilter string
	Device         string
	Pagination     bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Timeout        time.Duration
	RateLimit      int
}

type Metadata struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type VideoResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

type Pagination struct {
	Next string `json:"next"`
}

// Result is the subset of a search archive record this package reads.
type Result struct {
	Metadata     Metadata      `json:"search_metadata"`
	VideoResults []VideoResult `json:"video_results"`
	Pagination   Pagination    `json:"serpapi_pagination"`
	Error        string        `json:"error,omitempty"`
}

// Completed reports whether the archive record is ready to read.
func (r *Result) Completed() bool {
	return completedStatus.MatchString(r.Metadata.Status)
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RateLimit < 1 {
		cfg.RateLimit = 1
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
	}
}

func (c *Client) params(query string) url.Values {
	p := url.Values{}
	p.Set("engine", engineYouTube)
	p.Set("sp", c.cfg.DurationFilter)
	p.Set("device", c.cfg.Device)
	p.Set("search_query", query)
	p.Set("async", "true")
	return p
}

// Submit starts an asynchronous search and returns its metadata.
func (c *Client) Submit(ctx context.Context, query string) (*Result, error) {
	return c.submit(ctx, c.params(query))
}

func (c *Client) submit(ctx context.Context, params url.Values) (*Result, error) {
	res, err := c.get(ctx, "/search.json", params)
	if err != nil {
		return nil, errors.Wrap(err, "submitting search")
	}
	if res.Metadata.ID == "" {
		return nil, errors.New("search response has no id")
	}
	return res, nil
}

// Archive fetches the stored result of a previously submitted search.
func (c *Client) Archive(ctx context.Context, id string) (*Result, error) {
	res, err := c.get(ctx, "/searches/"+url.PathEscape(id)+".json", url.Values{})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching search archive %s", id)
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("api_key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("search API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "decoding search response")
	}
	if res.Error != "" {
		return nil, errors.Errorf("search API error: %s", res.Error)
	}
	return &res, nil
}

type pending struct {
	id       string
	params   url.Values
	attempts int
}

// Collect submits query and polls the search archive until up to n videos
// with unique sanitized titles are gathered. An incomplete search is re-queued
// under the same id with exponential backoff until MaxAttempts or Timeout.
// Only the first search is required to complete; when a later page fails the
// videos gathered so far are returned.
func (c *Client) Collect(ctx context.Context, query string, n int) ([]models.Video, error) {
	if n < 1 {
		return nil, nil
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	params := c.params(query)
	first, err := c.submit(ctx, params)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithField("query", query)
	queue := []*pending{{id: first.Metadata.ID, params: params}}
	titles := newTitleSet()
	videos := make([]models.Video, 0, n)
	firstDone := false

	partial := func(err error) ([]models.Video, error) {
		if !firstDone {
			return nil, err
		}
		logger.WithError(err).WithField("collected", len(videos)).Warn("Stopping pagination early")
		return videos, nil
	}

	for len(queue) > 0 && len(videos) < n {
		item := queue[0]
		queue = queue[1:]

		archived, err := c.Archive(ctx, item.id)
		if err != nil && ctx.Err() != nil {
			return partial(ctx.Err())
		}
		if err != nil || !archived.Completed() {
			item.attempts++
			fields := logrus.Fields{"search_id": item.id, "attempt": item.attempts}
			if err != nil {
				fields["error"] = err
			} else {
				fields["status"] = archived.Metadata.Status
			}
			if item.attempts >= c.cfg.MaxAttempts {
				logger.WithFields(fields).Error("Search never completed")
				return partial(errors.Wrapf(ErrPollExhausted, "search %s after %d attempts", item.id, item.attempts))
			}
			logger.WithFields(fields).Debug("Requeue search")
			if err := c.wait(ctx, item.attempts); err != nil {
				return partial(err)
			}
			queue = append(queue, item)
			continue
		}

		firstDone = true
		videos = appendUnique(videos, titles, archived.VideoResults, n)
		logger.WithFields(logrus.Fields{
			"search_id": item.id,
			"status":    archived.Metadata.Status,
			"collected": len(videos),
		}).Info("Search completed")

		if c.cfg.Pagination && len(videos) < n && archived.Pagination.Next != "" {
			nextParams, err := mergeNext(item.params, archived.Pagination.Next)
			if err != nil {
				logger.WithError(err).Warn("Ignoring malformed pagination link")
				continue
			}
			next, err := c.submit(ctx, nextParams)
			if err != nil {
				return partial(err)
			}
			queue = append(queue, &pending{id: next.Metadata.ID, params: nextParams})
		}
	}

	return videos, nil
}

// titleSet tracks the titles handed out so far. Generated names give way to a
// real title that matches them.
type titleSet struct {
	taken     map[string]bool
	generated map[string]int
}

func newTitleSet() *titleSet {
	return &titleSet{taken: map[string]bool{}, generated: map[string]int{}}
}

// generate returns the first free video-<k> name from k on and records it for
// the video at index i.
func (s *titleSet) generate(k, i int) string {
	for ; ; k++ {
		name := fmt.Sprintf("video-%d", k)
		if !s.taken[name] {
			s.taken[name] = true
			s.generated[name] = i
			return name
		}
	}
}

func appendUnique(videos []models.Video, titles *titleSet, results []VideoResult, n int) []models.Video {
	for _, r := range results {
		if len(videos) >= n {
			break
		}
		if err := validation.ValidateVideoLink(r.Link); err != nil {
			logrus.WithError(err).WithField("link", r.Link).Debug("Ignoring search result")
			continue
		}
		title := SanitizeTitle(r.Title)
		if title == "" {
			videos = append(videos, models.Video{Title: titles.generate(len(videos)+1, len(videos)), Link: r.Link})
			continue
		}
		if titles.taken[title] {
			i, ok := titles.generated[title]
			if !ok {
				continue
			}
			delete(titles.generated, title)
			videos[i].Title = titles.generate(len(videos)+1, i)
		}
		titles.taken[title] = true
		videos = append(videos, models.Video{Title: title, Link: r.Link})
	}
	return videos
}

// mergeNext overlays the query of a pagination link onto params.
func mergeNext(params url.Values, next string) (url.Values, error) {
	u, err := url.Parse(next)
	if err != nil {
		return nil, err
	}
	merged := url.Values{}
	for k, v := range params {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range u.Query() {
		if k == "api_key" {
			continue
		}
		merged[k] = v
	}
	merged.Set("async", "true")
	return merged, nil
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	backoff := time.Duration(float64(c.cfg.InitialBackoff) * math.Pow(backoffFactor, float64(attempt-1)))
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}
	if half := int64(backoff / 2); half > 0 {
		backoff += time.Duration(rand.Int63n(half))
	}

	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var illegalTitleChars = strings.NewReplacer(
	"|", "",
	"/", "",
	"?", "",
	":", "",
	"<", "",
	">", "",
	"\\", "",
	"*", "",
)

// SanitizeTitle removes characters that are not allowed in file names.
func SanitizeTitle(title string) string {
	return strings.TrimSpace(illegalTitleChars.Replace(title))
}
