// Package server exposes the scoring pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"claimscore/internal/config"
	"claimscore/internal/export"
	"claimscore/internal/gate"
	"claimscore/internal/pipeline"
	"claimscore/internal/upload"
	"claimscore/pkg/records"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sink receives every successful run, e.g. to persist it. A sink error fails
// the request.
type Sink func(ctx context.Context, run *pipeline.Run) error

// Options configures a Server.
type Options struct {
	// ParserOptions are passed to the upload parsers (header_map, comma, ...).
	ParserOptions  config.Options
	MaxUploadBytes int64
	Logger         *slog.Logger
	Sink           Sink
}

// Server serves /healthz, /v1/schema and /v1/predict.
type Server struct {
	pipe   *pipeline.Pipeline
	opts   Options
	log    *slog.Logger
	engine *gin.Engine
}

// New builds the router. Callers choose the gin mode (gin.SetMode) before
// calling New.
func New(p *pipeline.Pipeline, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{pipe: p, opts: opts, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", s.health)

	api := r.Group("/v1")
	{
		api.GET("/schema", s.schema)
		api.POST("/predict", s.predict)
	}
	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String())
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"schema_version": s.pipe.Schema().Version(),
		"timestamp":      time.Now().UTC(),
	})
}

type groupView struct {
	Field      string   `json:"field"`
	Reference  string   `json:"reference"`
	Categories []string `json:"categories"`
	Columns    []string `json:"columns"`
}

func (s *Server) schema(c *gin.Context) {
	sc := s.pipe.Schema()
	groups := make([]groupView, 0, len(sc.Groups()))
	for _, g := range sc.Groups() {
		groups = append(groups, groupView{Field: g.Field, Reference: g.Reference, Categories: g.Categories, Columns: g.Columns})
	}
	c.JSON(http.StatusOK, gin.H{
		"version": sc.Version(),
		"columns": sc.Columns(),
		"numeric": sc.Numeric(),
		"groups":  groups,
	})
}

type rowView struct {
	Index      int    `json:"index"`
	Prediction int    `json:"prediction"`
	Label      string `json:"label"`
}

type discardView struct {
	Column   string `json:"column"`
	Field    string `json:"field,omitempty"`
	Category string `json:"category,omitempty"`
	Rows     int    `json:"rows"`
}

type predictResponse struct {
	RunID       string         `json:"run_id"`
	Fingerprint string         `json:"fingerprint"`
	Summary     export.Summary `json:"summary"`
	Discarded   []discardView  `json:"discarded"`
	Rows        []rowView      `json:"rows"`
}

func (s *Server) predict(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" && format != "xlsx" {
		abort(c, http.StatusBadRequest, "invalid request", fmt.Errorf("unsupported format %q", format))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, "upload too large", err)
			return
		}
		abort(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	kind, err := upload.Resolve(c.Query("kind"), fh.Filename)
	if err != nil {
		s.fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	table, err := upload.Read(ctx, kind, fh.Filename, f, s.opts.ParserOptions)
	if err != nil {
		s.fail(c, err)
		return
	}

	run, err := s.pipe.Run(ctx, table)
	if err != nil {
		s.fail(c, err)
		return
	}

	if s.opts.Sink != nil {
		if err := s.opts.Sink(ctx, run); err != nil {
			s.log.Error("result sink failed", "run_id", run.ID, "err", err)
			abort(c, http.StatusInternalServerError, "results not stored", err)
			return
		}
	}

	c.Header("X-Run-ID", run.ID)
	switch format {
	case "csv":
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, run.Result); err != nil {
			abort(c, http.StatusInternalServerError, "export failed", err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+export.DefaultCSVName+`"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	case "xlsx":
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, run.Result); err != nil {
			abort(c, http.StatusInternalServerError, "export failed", err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+export.DefaultXLSXName+`"`)
		c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
	default:
		c.JSON(http.StatusOK, newPredictResponse(run))
	}
}

func newPredictResponse(run *pipeline.Run) predictResponse {
	resp := predictResponse{
		RunID:       run.ID,
		Fingerprint: run.Fingerprint,
		Summary:     export.Summarize(run.Result),
		Discarded:   make([]discardView, 0, len(run.Report.Discarded)),
		Rows:        make([]rowView, len(run.Result.Rows)),
	}
	for _, d := range run.Report.Discarded {
		resp.Discarded = append(resp.Discarded, discardView{Column: d.Column, Field: d.Field, Category: d.Category, Rows: d.Rows})
	}
	for i, r := range run.Result.Rows {
		resp.Rows[i] = rowView{Index: i, Prediction: r.Prediction, Label: r.Label}
	}
	return resp
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("predict failed", "status", status, "err", err)
	}
	abort(c, status, http.StatusText(status), err)
}

// StatusFor maps a scoring error to an HTTP status: bad uploads are the
// client's fault (400), a schema mismatch is ours (500) and a failing model
// is an upstream problem (502).
func StatusFor(err error) int {
	var step *pipeline.StepError
	switch {
	case errors.Is(err, records.ErrInputFormat):
		return http.StatusBadRequest
	case errors.Is(err, gate.ErrSchemaMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &step) && step.Step == pipeline.StepInfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, msg string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}
