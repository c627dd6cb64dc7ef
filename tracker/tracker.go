package tracker

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/yt-mentions/download"
	"github.com/nijaru/yt-mentions/export"
	"github.com/nijaru/yt-mentions/mentions"
	"github.com/nijaru/yt-mentions/models"
	"github.com/nijaru/yt-mentions/notify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when Run or Reset is called while a run is
// still executing.
var ErrRunInProgress = errors.New("a search is already running")

type Searcher interface {
	Collect(ctx context.Context, query string, n int) ([]models.Video, error)
}

type Downloader interface {
	Download(ctx context.Context, video models.Video) (models.Video, error)
}

type Transcriber interface {
	TranscribeAll(ctx context.Context, paths []string) (map[string]*models.Transcript, error)
}

type Store interface {
	SaveRun(ctx context.Context, run *models.Run) error
	Clear(ctx context.Context) error
}

type Tracker struct {
	Searcher    Searcher
	Downloader  Downloader
	Transcriber Transcriber
	Store       Store
	Notifier    notify.Notifier
	Uploader    export.Uploader

	WorkDir         string
	Workers         int
	DownloadTimeout time.Duration

	busy chan struct{}
}

func New(s Searcher, d Downloader, tr Transcriber, store Store, workDir string, workers int) *Tracker {
	if workers < 1 {
		workers = 1
	}
	return &Tracker{
		Searcher:    s,
		Downloader:  d,
		Transcriber: tr,
		Store:       store,
		Notifier:    notify.Noop{},
		WorkDir:     workDir,
		Workers:     workers,
		busy:        make(chan struct{}, 1),
	}
}

func (t *Tracker) acquire() bool {
	select {
	case t.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Tracker) release() { <-t.busy }

// Reset deletes the work directory, recreates it empty and clears stored runs.
func (t *Tracker) Reset(ctx context.Context) error {
	if !t.acquire() {
		return ErrRunInProgress
	}
	defer t.release()

	if err := os.RemoveAll(t.WorkDir); err != nil {
		return errors.Wrap(err, "removing work directory")
	}
	if err := os.MkdirAll(t.WorkDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "creating work directory")
	}
	if err := t.Store.Clear(ctx); err != nil {
		return err
	}

	logrus.WithField("work_dir", t.WorkDir).Info("Work directory reset")
	return nil
}

type downloadResult struct {
	video models.Video
	err   error
}

// Run searches, downloads, transcribes and filters for req.Keyword. Videos
// that cannot be downloaded are recorded as skipped and never fail the run.
func (t *Tracker) Run(ctx context.Context, req models.Request) (*models.Run, error) {
	if !t.acquire() {
		return nil, ErrRunInProgress
	}
	defer t.release()

	run := &models.Run{
		ID:        uuid.NewString(),
		Request:   req,
		StartedAt: time.Now().UTC(),
	}
	logger := logrus.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"query":   req.Query,
		"keyword": req.Keyword,
	})
	logger.WithField("max_videos", req.MaxVideos).Info("Run started")

	found, err := t.Searcher.Collect(ctx, req.Query, req.MaxVideos)
	if err != nil {
		return nil, errors.Wrap(err, "searching videos")
	}
	logger.WithField("videos", len(found)).Info("Search finished")

	results, err := t.downloadAll(ctx, found)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, r := range results {
		if r.err != nil {
			logger.WithError(r.err).WithField("title", r.video.Title).Warn("Skipping video")
			run.Skipped = append(run.Skipped, models.Skip{
				Title:  r.video.Title,
				Link:   r.video.Link,
				Reason: download.Reason(r.err),
			})
			continue
		}
		run.Videos = append(run.Videos, r.video)
		paths = append(paths, r.video.FilePath)
	}

	transcripts, err := t.Transcriber.TranscribeAll(ctx, paths)
	if err != nil {
		return nil, errors.Wrap(err, "transcribing audio")
	}

	for _, v := range run.Videos {
		run.Mentions = append(run.Mentions, mentions.Filter(v, transcripts[v.FilePath], req.Keyword)...)
	}
	run.FinishedAt = time.Now().UTC()

	if err := t.Store.SaveRun(ctx, run); err != nil {
		return nil, errors.Wrap(err, "saving run")
	}

	logger.WithFields(logrus.Fields{
		"downloaded": len(run.Videos),
		"skipped":    len(run.Skipped),
		"mentions":   len(run.Mentions),
		"duration":   run.Duration().String(),
	}).Info("Run finished")

	t.publish(ctx, run, logger)
	return run, nil
}

// downloadAll fetches videos with at most Workers downloads in flight.
// Results keep the search order.
func (t *Tracker) downloadAll(ctx context.Context, videos []models.Video) ([]downloadResult, error) {
	results := make([]downloadResult, len(videos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.Workers)

	for i, v := range videos {
		g.Go(func() error {
			dctx := gctx
			if t.DownloadTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(gctx, t.DownloadTimeout)
				defer cancel()
			}

			got, err := t.Downloader.Download(dctx, v)
			if err != nil {
				got = v
			}
			results[i] = downloadResult{video: got, err: err}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Tracker) publish(ctx context.Context, run *models.Run, logger *logrus.Entry) {
	if !run.HasMentions() {
		return
	}

	if t.Notifier != nil {
		if err := t.Notifier.Notify(ctx, run); err != nil {
			logger.WithError(err).Error("Failed to publish mentions")
		}
	}

	if t.Uploader != nil && run.Request.Format == models.FormatCSV {
		data, err := export.CSV(run.Mentions)
		if err != nil {
			logger.WithError(err).Error("Failed to render export")
			return
		}
		if _, err := t.Uploader.Upload(ctx, run.ID, data); err != nil {
			logger.WithError(err).Error("Failed to upload export")
		}
	}
}
