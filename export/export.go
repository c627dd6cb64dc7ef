package export

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"

	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
)

const (
	// FileName is the name offered to the browser for the CSV download.
	FileName    = "youtube-transcript.csv"
	ContentType = "text/csv"
)

var header = []string{"video_title", "timestamp_url", "text"}

// CSV renders mentions with a header row. Rows keep their input order.
func CSV(rows []models.Mention) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, errors.Wrap(err, "writing csv header")
	}
	for _, m := range rows {
		if err := w.Write([]string{m.VideoTitle, m.TimestampURL, m.Text}); err != nil {
			return nil, errors.Wrap(err, "writing csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flushing csv")
	}
	return buf.Bytes(), nil
}

// DataURI embeds data in a link target the browser can save directly.
func DataURI(data []byte) string {
	return "data:file/csv;base64," + base64.StdEncoding.EncodeToString(data)
}
