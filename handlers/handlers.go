package handlers

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/nijaru/yt-mentions/db"
	apperrors "github.com/nijaru/yt-mentions/errors"
	"github.com/nijaru/yt-mentions/export"
	"github.com/nijaru/yt-mentions/middleware"
	"github.com/nijaru/yt-mentions/models"
	"github.com/nijaru/yt-mentions/search"
	"github.com/nijaru/yt-mentions/tracker"
	"github.com/nijaru/yt-mentions/utils"
	"github.com/nijaru/yt-mentions/validation"
	"github.com/pkg/errors"
)

const NoDataMessage = "No target keyword found. Click *Start Over* button and try different keyword."

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type Runner interface {
	Run(ctx context.Context, req models.Request) (*models.Run, error)
	Reset(ctx context.Context) error
}

type RunStore interface {
	CurrentRun(ctx context.Context) (*models.Run, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	runner    Runner
	store     RunStore
	maxVideos int
}

func New(runner Runner, store RunStore, maxVideos int) *Handler {
	return &Handler{runner: runner, store: store, maxVideos: maxVideos}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("POST /search", h.Search)
	mux.HandleFunc("POST /reset", h.Reset)
	mux.HandleFunc("GET /export.csv", h.ExportCSV)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

type page struct {
	Query         string
	Keyword       string
	Count         int
	MaxVideos     int
	Format        string
	Error         string
	Run           *models.Run
	NoData        bool
	NoDataMessage string
	CSVLink       template.URL
	FileName      string
}

func (h *Handler) newPage() *page {
	return &page{
		Count:         h.maxVideos,
		MaxVideos:     h.maxVideos,
		NoDataMessage: NoDataMessage,
		FileName:      export.FileName,
	}
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	p := h.newPage()

	run, err := h.store.CurrentRun(r.Context())
	switch {
	case errors.Is(err, db.ErrNoRun):
	case err != nil:
		middleware.GetLogger(r.Context()).WithError(err).Error("Failed to load current run")
		p.Error = "Could not load previous results."
	default:
		h.fillResults(r.Context(), p, run)
	}

	h.render(w, r, http.StatusOK, p)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Search"
	logger := middleware.GetLogger(r.Context())

	p := h.newPage()
	p.Query = r.FormValue("query")
	p.Keyword = r.FormValue("keyword")
	p.Format = r.FormValue("format")
	if n, err := strconv.Atoi(r.FormValue("count")); err == nil {
		p.Count = n
	}

	req, err := validation.ValidateRequest(p.Query, p.Keyword, r.FormValue("count"), p.Format, h.maxVideos)
	if err != nil {
		appErr := apperrors.InvalidInput(op, err, err.Error())
		logger.WithError(err).Warn("Invalid search request")
		p.Error = appErr.Message
		h.render(w, r, appErr.Code, p)
		return
	}

	run, err := h.runner.Run(r.Context(), req)
	if err != nil {
		appErr := classifyRunError(op, err)
		logger.WithError(err).WithField("status", appErr.Code).Error("Search run failed")
		p.Error = appErr.Message
		h.render(w, r, appErr.Code, p)
		return
	}

	h.fillResults(r.Context(), p, run)
	h.render(w, r, http.StatusOK, p)
}

func (h *Handler) fillResults(ctx context.Context, p *page, run *models.Run) {
	p.Run = run
	p.Query = run.Request.Query
	p.Keyword = run.Request.Keyword
	p.Count = run.Request.MaxVideos
	p.Format = string(run.Request.Format)

	if !run.HasMentions() {
		p.NoData = true
		return
	}
	if run.Request.Format != models.FormatCSV {
		return
	}

	data, err := export.CSV(run.Mentions)
	if err != nil {
		middleware.GetLogger(ctx).WithError(err).Error("Failed to render CSV")
		return
	}
	// Data URIs are rejected by html/template unless marked safe.
	p.CSVLink = template.URL(export.DataURI(data))
}

func classifyRunError(op string, err error) *apperrors.Error {
	switch {
	case errors.Is(err, tracker.ErrRunInProgress):
		return apperrors.Conflict(op, err, "A search is already running. Please wait for it to finish.")
	case errors.Is(err, search.ErrPollExhausted):
		return apperrors.Upstream(op, err, "The search service did not finish in time. Please try again.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.E(op, err, "The search was cancelled before it finished.", http.StatusGatewayTimeout)
	}
	return apperrors.Internal(op, err, "Something went wrong while processing your search. Please try again.")
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Reset"

	if err := h.runner.Reset(r.Context()); err != nil {
		appErr := classifyRunError(op, err)
		middleware.GetLogger(r.Context()).WithError(err).Error("Reset failed")
		p := h.newPage()
		p.Error = appErr.Message
		h.render(w, r, appErr.Code, p)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ExportCSV"

	run, err := h.store.CurrentRun(r.Context())
	if errors.Is(err, db.ErrNoRun) || (err == nil && !run.HasMentions()) {
		utils.RespondWithError(w, apperrors.NotFound(op, err, "No mentions to export"))
		return
	}
	if err != nil {
		middleware.GetLogger(r.Context()).WithError(err).Error("Failed to load current run")
		utils.RespondWithError(w, apperrors.Internal(op, err, "Failed to load results"))
		return
	}

	data, err := export.CSV(run.Mentions)
	if err != nil {
		utils.RespondWithError(w, apperrors.Internal(op, err, "Failed to render CSV"))
		return
	}

	w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		middleware.GetLogger(r.Context()).WithError(err).Warn("Failed to write CSV")
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		middleware.GetLogger(r.Context()).WithError(err).Error("Health check failed")
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, p *page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, p); err != nil {
		middleware.GetLogger(r.Context()).WithError(err).Error("Failed to render page")
	}
}
