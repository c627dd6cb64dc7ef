package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/nijaru/yt-mentions/config"
	apperrors "github.com/nijaru/yt-mentions/errors"
	"github.com/nijaru/yt-mentions/export"
	"github.com/nijaru/yt-mentions/handlers"
	"github.com/nijaru/yt-mentions/models"
	"github.com/nijaru/yt-mentions/validation"
	"github.com/pkg/errors"
)

type cliOptions struct {
	query   string
	keyword string
	count   int
	format  string
	out     string
}

type runner interface {
	Run(ctx context.Context, req models.Request) (*models.Run, error)
}

// runOnce executes a single search without the web UI, printing the table to w.
func runOnce(ctx context.Context, w io.Writer, r runner, cfg *config.Config, opts cliOptions) error {
	count := ""
	if opts.count > 0 {
		count = strconv.Itoa(opts.count)
	}
	req, err := validation.ValidateRequest(opts.query, opts.keyword, count, opts.format, cfg.MaxVideos)
	if err != nil {
		return apperrors.InvalidInput("runOnce", err, err.Error())
	}

	run, err := r.Run(ctx, req)
	if err != nil {
		return err
	}

	for _, s := range run.Skipped {
		fmt.Fprintf(w, "skipped %s (%s)\n", s.Title, s.Reason)
	}
	if !run.HasMentions() {
		fmt.Fprintln(w, handlers.NoDataMessage)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "video_title\ttimestamp_url\ttext")
	for _, m := range run.Mentions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.VideoTitle, m.TimestampURL, m.Text)
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "writing table")
	}

	if req.Format != models.FormatCSV {
		return nil
	}
	data, err := export.CSV(run.Mentions)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return errors.Wrap(err, "writing csv")
	}
	fmt.Fprintf(w, "saved %d rows to %s\n", len(run.Mentions), opts.out)
	return nil
}
