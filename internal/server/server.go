// Package server exposes the quote engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/config"
	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/quote"
)

const (
	requestTimeout     = 10 * time.Second
	maxRequestBodySize = 1 << 20
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// FactorsRequest asks for raw engine factors of one parameter set.
type FactorsRequest struct {
	// Kind is "joint_life" (default) or "survivor".
	Kind     string                 `json:"kind"`
	Primary  *domain.Person         `json:"primary,omitempty"`
	Spouse   *domain.Dependent      `json:"spouse,omitempty"`
	Children []domain.Dependent     `json:"children,omitempty"`
	Discount domain.DiscountSetting `json:"discount"`
	Shape    domain.PayoutShape     `json:"shape"`
	Schedule bool                   `json:"schedule"`
	// PensionType picks the sales-rate column; it defaults to old age.
	PensionType domain.PensionType `json:"pension_type,omitempty"`
}

// FactorsResponse carries the factors and, on request, the period walk.
type FactorsResponse struct {
	Factors  domain.Factors     `json:"factors"`
	Total    float64            `json:"total"`
	Discount string             `json:"discount"`
	Schedule []actuarial.Period `json:"schedule,omitempty"`
}

// Server routes API requests to the quote engine.
type Server struct {
	quotes         *quote.Engine
	parser         *config.InputParser
	metrics        *Metrics
	metricsHandler fasthttp.RequestHandler
	logger         actuarial.Logger
}

// New creates a server over a quote engine. Metrics are registered on a
// registry private to the server and exposed on /metrics.
func New(quotes *quote.Engine, logger actuarial.Logger) *Server {
	if logger == nil {
		logger = actuarial.NopLogger{}
	}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	quotes.SetMetrics(metrics)
	return &Server{
		quotes:         quotes,
		parser:         config.NewInputParser(),
		metrics:        metrics,
		metricsHandler: fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		logger:         logger,
	}
}

// Handler returns the request router.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		path := string(ctx.Path())
		label := path

		switch path {
		case "/v1/quote":
			s.post(ctx, s.handleQuote)
		case "/v1/factors":
			s.post(ctx, s.handleFactors)
		case "/healthz":
			writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		case "/metrics":
			s.metricsHandler(ctx)
			return
		default:
			label = "other"
			writeError(ctx, fasthttp.StatusNotFound, "not found")
		}

		status := ctx.Response.StatusCode()
		s.metrics.ObserveRequest(label, status, start)
		s.logger.Debugf("%s %s -> %d in %s", ctx.Method(), path, status, time.Since(start))
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "annuity",
		ReadTimeout:        requestTimeout,
		WriteTimeout:       requestTimeout,
		MaxRequestBodySize: maxRequestBodySize,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("quote API listening on %s", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Infof("shutting down quote API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	}
}

func (s *Server) post(ctx *fasthttp.RequestCtx, handle func(*fasthttp.RequestCtx)) {
	if !ctx.IsPost() {
		ctx.Response.Header.Set("Allow", fasthttp.MethodPost)
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	handle(ctx)
}

func (s *Server) handleQuote(ctx *fasthttp.RequestCtx) {
	var cfg domain.Configuration
	if err := json.Unmarshal(ctx.PostBody(), &cfg); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s.parser.ApplyDefaults(&cfg)
	if err := s.parser.ValidateConfiguration(&cfg); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	runCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	report, err := s.quotes.Run(runCtx, &cfg)
	if err != nil {
		s.logger.Warnf("quote failed: %v", err)
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, report)
}

func (s *Server) handleFactors(ctx *fasthttp.RequestCtx) {
	var req FactorsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mode, err := s.quotes.DiscountMode(req.Discount, req.PensionType)
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}

	engine := s.quotes.Actuarial()
	resp := FactorsResponse{Discount: mode.Name()}
	switch req.Kind {
	case "", "joint_life":
		in := actuarial.JointLifeInput{Primary: req.Primary, Spouse: req.Spouse, Children: req.Children, Discount: mode, Shape: req.Shape}
		resp.Factors, err = engine.JointLife(in)
		if err == nil && req.Schedule {
			resp.Schedule, err = engine.JointLifeSchedule(in)
		}
	case "survivor":
		in := actuarial.SurvivorInput{Spouse: req.Spouse, Children: req.Children, Discount: mode}
		var f float64
		f, err = engine.Survivor(in)
		resp.Factors = domain.Factors{Deferred: f}
		if err == nil && req.Schedule {
			resp.Schedule, err = engine.SurvivorSchedule(in)
		}
	default:
		err = fmt.Errorf("%w: unknown calculation kind %q", actuarial.ErrInvalidInput, req.Kind)
	}
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	resp.Total = resp.Factors.Total()
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case config.IsValidationError(err),
		errors.Is(err, actuarial.ErrInvalidInput),
		errors.Is(err, quote.ErrNoBeneficiaries),
		errors.Is(err, quote.ErrCurveUnavailable),
		errors.Is(err, quote.ErrSalesRatesUnavailable):
		return fasthttp.StatusBadRequest
	case errors.Is(err, conversion.ErrDegenerateFactor),
		errors.Is(err, quote.ErrNotEligible):
		return fasthttp.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error(`{"status":500,"message":"failed to encode response"}`, fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, ErrorResponse{Status: status, Message: message})
}
