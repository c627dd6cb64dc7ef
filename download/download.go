package download

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nijaru/yt-mentions/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const audioFormat = "worstaudio"

var (
	ErrLiveStream       = errors.New("video is a live stream")
	ErrVideoUnavailable = errors.New("video is unavailable")

	errNoAudioFormat = errors.New("requested format is not available")
)

// streamInfo is the part of `yt-dlp -J` output needed to fetch one format.
type streamInfo struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	IsLive      bool              `json:"is_live"`
	LiveStatus  string            `json:"live_status"`
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

func (s *streamInfo) live() bool {
	if s.IsLive {
		return true
	}
	switch s.LiveStatus {
	case "is_live", "is_upcoming", "post_live":
		return true
	}
	return false
}

type Downloader struct {
	Client  HTTPClient
	WorkDir string
	YtDlp   string

	// ProbeFunc returns yt-dlp JSON metadata for a video link, selecting
	// format when it is not empty.
	ProbeFunc func(ctx context.Context, link, format string) ([]byte, error)
}

func NewDownloader(client HTTPClient, workDir, ytDlpPath string) *Downloader {
	d := &Downloader{
		Client:  client,
		WorkDir: workDir,
		YtDlp:   ytDlpPath,
	}
	d.ProbeFunc = d.probe
	return d
}

// Download fetches the lowest quality audio-only stream of video into the
// work directory and returns the video with FilePath set.
func (d *Downloader) Download(ctx context.Context, video models.Video) (models.Video, error) {
	logger := logrus.WithFields(logrus.Fields{"title": video.Title, "link": video.Link})

	raw, err := d.ProbeFunc(ctx, video.Link, audioFormat)
	if errors.Is(err, errNoAudioFormat) {
		return video, d.explainMissingFormat(ctx, video.Link, err)
	}
	if err != nil {
		return video, err
	}

	var info streamInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return video, errors.Wrap(err, "decoding yt-dlp metadata")
	}
	if info.live() {
		return video, ErrLiveStream
	}
	if info.URL == "" {
		return video, errors.Wrap(ErrVideoUnavailable, "no audio stream")
	}

	ext := info.Ext
	if ext == "" {
		ext = "m4a"
	}
	path := filepath.Join(d.WorkDir, video.Title+"."+ext)

	logger.WithField("path", path).Debug("Downloading audio stream")
	if err := d.fetch(ctx, info, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WithError(rmErr).Warn("Failed to remove partial download")
		}
		return video, err
	}

	video.FilePath = path
	logger.WithField("path", path).Info("Audio downloaded")
	return video, nil
}

// explainMissingFormat probes link without a format selector. Live
// broadcasts expose no audio-only format, so yt-dlp reports the format as
// missing before it reports the broadcast.
func (d *Downloader) explainMissingFormat(ctx context.Context, link string, cause error) error {
	raw, err := d.ProbeFunc(ctx, link, "")
	if err != nil {
		return errors.Wrap(ErrVideoUnavailable, cause.Error())
	}
	var info streamInfo
	if err := json.Unmarshal(raw, &info); err == nil && info.live() {
		return ErrLiveStream
	}
	return errors.Wrap(ErrVideoUnavailable, cause.Error())
}

func (d *Downloader) fetch(ctx context.Context, info streamInfo, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return errors.Wrap(err, "building media request")
	}
	for k, v := range info.HTTPHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "requesting media")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Error closing response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		return errors.Wrapf(ErrVideoUnavailable, "media status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("media status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrap(err, "creating work directory")
	}
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating audio file")
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return errors.Wrap(err, "writing audio file")
	}
	return errors.Wrap(out.Close(), "closing audio file")
}

func (d *Downloader) probe(ctx context.Context, link, format string) ([]byte, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	if format != "" {
		args = append(args, "-f", format)
	}
	cmd := exec.CommandContext(ctx, d.YtDlp, append(args, link)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// classify maps yt-dlp failure output onto the skip errors.
func classify(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "requested format is not available"):
		return errors.Wrap(errNoAudioFormat, strings.TrimSpace(stderr))
	case strings.Contains(msg, "live event"),
		strings.Contains(msg, "is live"),
		strings.Contains(msg, "premieres in"):
		return errors.Wrap(ErrLiveStream, strings.TrimSpace(stderr))
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "private video"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "not available"),
		strings.Contains(msg, "sign in to confirm your age"):
		return errors.Wrap(ErrVideoUnavailable, strings.TrimSpace(stderr))
	}
	return errors.Wrapf(err, "yt-dlp failed: %s", strings.TrimSpace(stderr))
}

// Reason returns a short human readable cause for a skipped video.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrLiveStream):
		return "live stream"
	case errors.Is(err, ErrVideoUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "download timed out"
	}
	return "download failed"
}
