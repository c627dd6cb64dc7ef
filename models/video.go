package models

import (
	"time"
)

type Format string

const (
	FormatNone Format = ""
	FormatCSV  Format = "csv"
)

// Video is a search hit selected for download. Title is already
// sanitized and doubles as the local file name.
type Video struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	FilePath string `json:"file_path,omitempty"`
}

// Segment is a span of transcribed speech. Times are seconds from the start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// Mention is one transcript segment that contains the target keyword.
type Mention struct {
	VideoTitle   string `json:"video_title"`
	TimestampURL string `json:"timestamp_url"`
	Text         string `json:"text"`
}

// Skip records a video that was dropped before transcription.
type Skip struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Reason string `json:"reason"`
}

type Request struct {
	Query     string `json:"query"`
	Keyword   string `json:"keyword"`
	MaxVideos int    `json:"max_videos"`
	Format    Format `json:"format"`
}

type Run struct {
	ID         string    `json:"id"`
	Request    Request   `json:"request"`
	Videos     []Video   `json:"videos"`
	Skipped    []Skip    `json:"skipped,omitempty"`
	Mentions   []Mention `json:"mentions"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HasMentions reports whether the run produced any rows to show.
func (r *Run) HasMentions() bool { return r != nil && len(r.Mentions) > 0 }

func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
