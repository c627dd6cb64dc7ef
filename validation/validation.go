package validation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nijaru/yt-mentions/config"
	"github.com/nijaru/yt-mentions/models"
)

const MissingQueryMessage = "Looks like you click a button without a search query. Please enter a search query 👆"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateRequest checks the raw form values of a search and returns the
// normalized request. count may be empty, in which case maxVideos is used.
func ValidateRequest(query, keyword, count, format string, maxVideos int) (models.Request, error) {
	req := models.Request{
		Query:     strings.TrimSpace(query),
		Keyword:   strings.TrimSpace(keyword),
		MaxVideos: maxVideos,
	}

	if req.Query == "" {
		return req, &ValidationError{Field: "query", Message: MissingQueryMessage}
	}

	if count = strings.TrimSpace(count); count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			return req, &ValidationError{Field: "count", Message: "Number of videos must be a whole number"}
		}
		req.MaxVideos = n
	}
	if req.MaxVideos < 1 || req.MaxVideos > config.MaxVideosLimit {
		return req, &ValidationError{
			Field:   "count",
			Message: fmt.Sprintf("Number of videos must be between 1 and %d", config.MaxVideosLimit),
		}
	}

	f, err := ParseFormat(format)
	if err != nil {
		return req, err
	}
	req.Format = f

	return req, nil
}

func ParseFormat(format string) (models.Format, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "none":
		return models.FormatNone, nil
	case "csv":
		return models.FormatCSV, nil
	}
	return models.FormatNone, &ValidationError{Field: "format", Message: "Save format must be none or csv"}
}

// ValidateVideoLink accepts absolute http(s) links. YouTube links must carry
// a video id so a timestamp can be appended.
func ValidateVideoLink(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return &ValidationError{Field: "link", Message: "link is required"}
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return &ValidationError{Field: "link", Message: "invalid URL format"}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "link", Message: "URL must start with http or https"}
	}
	if parsedURL.Host == "" {
		return &ValidationError{Field: "link", Message: "URL must have a host"}
	}
	if strings.Contains(parsedURL.Host, "youtube.com") && parsedURL.Query().Get("v") == "" {
		return &ValidationError{Field: "link", Message: "YouTube URL must contain a valid video ID"}
	}
	return nil
}
