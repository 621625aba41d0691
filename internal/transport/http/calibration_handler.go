package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
	apierrors "ratecal/internal/errors"
	"ratecal/internal/infrastructure"
	"ratecal/internal/ingest"
	"ratecal/internal/middleware"
	"ratecal/internal/services"
	api "ratecal/pkg/contracts/api/v1"
)

// CalibrationsPath is where the calibration routes are mounted.
const CalibrationsPath = "/api/v1/calibrations"

// CalibrationService is what the handler needs from the run service.
type CalibrationService interface {
	Submit(ctx context.Context, req services.RunRequest) (*services.Run, error)
	Get(id string) (*services.Run, error)
	List(filter services.RunFilter) []*services.Run
	Cancel(id string) (*services.Run, error)
	Stats() map[string]int
}

// CalibrationHandler exposes calibration runs over HTTP
type CalibrationHandler struct {
	service      CalibrationService
	defaults     config.CalibrationConfig
	sheets       ingest.SheetsOptions
	export       bool
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	metrics      *infrastructure.BusinessMetrics
	logger       *slog.Logger
}

// CalibrationHandlerOption customizes a CalibrationHandler.
type CalibrationHandlerOption func(*CalibrationHandler)

// WithSheets enables gsheet:// locations in requests.
func WithSheets(opts ingest.SheetsOptions) CalibrationHandlerOption {
	return func(h *CalibrationHandler) { h.sheets = opts }
}

// WithHandlerMetrics counts ingested rows.
func WithHandlerMetrics(m *infrastructure.BusinessMetrics) CalibrationHandlerOption {
	return func(h *CalibrationHandler) { h.metrics = m }
}

// WithExportDefault sets whether runs write report files when the request
// does not say.
func WithExportDefault(export bool) CalibrationHandlerOption {
	return func(h *CalibrationHandler) { h.export = export }
}

// NewCalibrationHandler creates a calibration handler. defaults fill every
// section a request leaves out.
func NewCalibrationHandler(service CalibrationService, defaults config.CalibrationConfig, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger, opts ...CalibrationHandlerOption) *CalibrationHandler {
	logger = logger.With(slog.String("handler", "calibration"))
	h := &CalibrationHandler{
		service:      service,
		defaults:     defaults,
		export:       true,
		validator:    validator,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		errorHandler: errorHandler,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the calibration router
func (h *CalibrationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.ContentTypeValidator("application/json", "multipart/form-data"))
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Cancel)
		r.Get("/reports/{file}", h.Report)
	})
	return r
}

// Submit handles POST /api/v1/calibrations. The body is either a JSON
// CalibrationRequest or a multipart form with a "file" upload and an
// optional "request" part holding the JSON overrides.
func (h *CalibrationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		req api.CalibrationRequest
		src ingest.Source
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		src, err = h.decodeUpload(w, r, &req)
	} else {
		err = h.validator.DecodeJSON(w, r, &req)
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	runReq, err := h.buildRunRequest(ctx, &req, src)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	run, err := h.service.Submit(ctx, runReq)
	if err != nil {
		h.errorHandler.HandleError(w, r, serviceError(err))
		return
	}

	h.logger.InfoContext(ctx, "Calibration accepted",
		slog.String("run_id", run.ID),
		slog.String("source", run.Source),
		slog.Int("rows", run.Rows))

	resp := toRunResponse(run)
	w.Header().Set("Location", resp.Links.Self)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, resp)
}

func (h *CalibrationHandler) decodeUpload(w http.ResponseWriter, r *http.Request, req *api.CalibrationRequest) (ingest.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxBodySize())
	if err := r.ParseMultipartForm(h.validator.MaxBodySize()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierrors.NewWithDetails(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size", map[string]interface{}{"max_size": h.validator.MaxBodySize()})
		}
		return nil, apierrors.InvalidRequestWithError(err)
	}

	if raw := r.FormValue("request"); raw != "" {
		if err := json.Unmarshal([]byte(raw), req); err != nil {
			return nil, apierrors.InvalidRequestWithError(err)
		}
	}
	req.Rows, req.Location = nil, ""
	if err := h.validator.ValidateStructExcept(req, "Rows", "Location"); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apierrors.ErrValidation("file", "file upload is required")
	}
	if req.Source == "" {
		req.Source = header.Filename
	}
	spec := h.datasetSpec(req)
	want := ingest.Columns(spec.RatingVariables, spec.ActualField, spec.ExpectedField, spec.WeightField)
	return ingest.OpenReader(header.Filename, file, r.FormValue("sheet"), want)
}

// buildRunRequest loads the records and merges the request over the
// configured defaults.
func (h *CalibrationHandler) buildRunRequest(ctx context.Context, req *api.CalibrationRequest, src ingest.Source) (services.RunRequest, error) {
	spec := h.datasetSpec(req)
	opts := applyOverrides(h.defaults.Options(), req)

	if src == nil {
		if req.Location != "" {
			s, err := ingest.Open(ctx, req.Location, "", nil, h.sheets)
			if err != nil {
				return services.RunRequest{}, err
			}
			src = s
		} else {
			src = &ingest.RowsSource{Name: req.Source, Rows: req.Rows}
		}
	}

	records, err := ingest.Load(ctx, src, spec, h.logger)
	if err != nil {
		return services.RunRequest{}, err
	}
	if h.metrics != nil {
		kind, _, _ := strings.Cut(src.Describe(), ":")
		h.metrics.RowsIngested.Add(ctx, int64(len(records)),
			metric.WithAttributes(attribute.String("source.kind", kind)))
	}

	source := req.Source
	if source == "" {
		source = src.Describe()
	}
	export := h.export
	if req.Export != nil {
		export = *req.Export
	}
	return services.RunRequest{
		Records: records,
		Source:  source,
		Spec:    spec,
		Options: opts,
		Export:  export,
	}, nil
}

func (h *CalibrationHandler) datasetSpec(req *api.CalibrationRequest) calibration.DatasetSpec {
	if req.Dataset == nil {
		return h.defaults.DatasetSpec()
	}
	d := req.Dataset
	return calibration.DatasetSpec{
		RatingVariables: append([]string(nil), d.RatingVariables...),
		ActualField:     d.ActualField,
		ExpectedField:   d.ExpectedField,
		WeightField:     d.WeightField,
		Mode:            calibration.Mode(d.Mode),
		Grouped:         d.Grouped,
	}
}

// applyOverrides layers the optional request sections over opts.
func applyOverrides(opts calibration.Options, req *api.CalibrationRequest) calibration.Options {
	if c := req.Credibility; c != nil {
		opts.Credibility.Enabled = c.Enabled
		if c.WeightField != "" {
			opts.Credibility.WeightField = c.WeightField
		}
		if c.FullCredibility > 0 {
			opts.Credibility.FullCredibility = c.FullCredibility
		}
		if c.MaxStep > 0 {
			opts.Credibility.MaxStep = c.MaxStep
		}
		if c.DefaultInterval != nil {
			opts.Credibility.DefaultInterval = calibration.Interval{Lower: c.DefaultInterval.Lower, Upper: c.DefaultInterval.Upper}
		}
	}
	if g := req.GuardBand; g != nil {
		opts.GuardBand = calibration.GuardBand{Lower: g.Lower, Upper: g.Upper}
	}
	if req.Penalty != nil {
		opts.Penalty = *req.Penalty
	}
	if o := req.Optimizer; o != nil {
		oo := &opts.Optimizer
		if o.Strategy != "" {
			oo.Strategy = o.Strategy
		}
		if o.MaxIterations > 0 {
			oo.MaxIterations = o.MaxIterations
		}
		if o.PopulationSize > 0 {
			oo.PopulationSize = o.PopulationSize
		}
		if o.Tolerance != nil {
			oo.Tolerance = *o.Tolerance
		}
		if o.AbsoluteTolerance != nil {
			oo.AbsoluteTolerance = *o.AbsoluteTolerance
		}
		if o.Recombination != nil {
			oo.Recombination = *o.Recombination
		}
		if o.Seed != nil {
			oo.Seed = *o.Seed
		}
		if o.Polish != nil {
			oo.Polish = *o.Polish
		}
		if o.Init != "" {
			oo.Init = o.Init
		}
		if o.Updating != "" {
			oo.Updating = o.Updating
		}
		if o.Workers != 0 {
			oo.Workers = o.Workers
		}
	}
	return opts
}

// List handles GET /api/v1/calibrations
func (h *CalibrationHandler) List(w http.ResponseWriter, r *http.Request) {
	status, ok := h.query.ValidateEnum(w, r, "status",
		[]string{"queued", "running", "completed", "failed", "cancelled"}, "")
	if !ok {
		return
	}
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, 500, 50)
	if !ok {
		return
	}

	runs := h.service.List(services.RunFilter{Status: services.RunStatus(status), Limit: limit})
	resp := api.RunListResponse{
		Runs:  make([]api.RunResponse, 0, len(runs)),
		Count: len(runs),
		Stats: h.service.Stats(),
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	render.JSON(w, r, resp)
}

// Get handles GET /api/v1/calibrations/{id}
func (h *CalibrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, toRunResponse(run))
}

// Cancel handles DELETE /api/v1/calibrations/{id}
func (h *CalibrationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, serviceError(err))
		return
	}
	h.logger.InfoContext(r.Context(), "Calibration cancel requested", slog.String("run_id", run.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, toRunResponse(run))
}

// Report handles GET /api/v1/calibrations/{id}/reports/{file}. Only files
// the run itself wrote are served.
func (h *CalibrationHandler) Report(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	name := chi.URLParam(r, "file")
	for _, path := range run.Reports {
		if filepath.Base(path) == name {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
			http.ServeFile(w, r, path)
			return
		}
	}
	h.errorHandler.HandleError(w, r, apierrors.NotFoundError("report "+name))
}

// serviceError maps run service sentinels onto API errors.
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrTooManyRuns):
		return apierrors.New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, services.ErrServiceUnavailable):
		return apierrors.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error())
	case errors.Is(err, services.ErrRunFinished):
		return apierrors.New(http.StatusConflict, "RUN_FINISHED", err.Error())
	default:
		return err
	}
}
