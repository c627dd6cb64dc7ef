package mentions

import (
	"math"
	"strconv"
	"strings"

	"github.com/nijaru/yt-mentions/models"
)

// Filter returns one mention per transcript segment whose text contains
// keyword, compared case-insensitively. Segment order is preserved.
func Filter(video models.Video, transcript *models.Transcript, keyword string) []models.Mention {
	if transcript == nil || strings.TrimSpace(transcript.Text) == "" {
		return nil
	}

	needle := strings.ToLower(keyword)
	var out []models.Mention
	for _, seg := range transcript.Segments {
		if !strings.Contains(strings.ToLower(seg.Text), needle) {
			continue
		}
		out = append(out, models.Mention{
			VideoTitle:   video.Title,
			TimestampURL: TimestampURL(video.Link, seg.Start),
			Text:         seg.Text,
		})
	}
	return out
}

// TimestampURL links to the video at the whole second the segment starts.
func TimestampURL(link string, start float64) string {
	if start < 0 {
		start = 0
	}
	return link + "&t=" + strconv.FormatInt(int64(math.Floor(start)), 10) + "s"
}
