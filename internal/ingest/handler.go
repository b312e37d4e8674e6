package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/krishnamouli8/vantage/internal/bus"
	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
	"github.com/krishnamouli8/vantage/pkg/logger"
	"github.com/krishnamouli8/vantage/pkg/metrics"
)

// Gateway holds the dependencies and counters behind POST /v1/metrics and
// its companion endpoints.
type Gateway struct {
	cfg       config.IngestConfig
	validator *Validator
	admission *Admission
	preagg    *PreaggBuffer
	publisher *Publisher

	accepted   uint64
	rejected   uint64
	published  uint64
	publishErr uint64

	readyFn func() bool
}

// NewGateway wires a Gateway from its dependencies. readyFn reports whether
// the bus is currently reachable, for GET /readyz.
func NewGateway(cfg config.IngestConfig, b bus.Bus, limiter *Admission, readyFn func() bool) *Gateway {
	return &Gateway{
		cfg:       cfg,
		validator: NewValidator(cfg),
		admission: limiter,
		preagg:    NewPreaggBuffer(cfg.PreaggShards, cfg.ReservoirSize),
		publisher: NewPublisher(b),
		readyFn:   readyFn,
	}
}

// HandleIngest implements POST /v1/metrics.
func (g *Gateway) HandleIngest(w http.ResponseWriter, r *http.Request) {
	identity := g.admission.Identity(r)
	if err := g.admission.Allow(r.Context(), identity); err != nil {
		if apperror.Is(err, apperror.CodeOverload) {
			w.Header().Set("Retry-After", strconv.Itoa(g.admission.RetryAfterSeconds(r.Context(), identity)))
		}
		writeError(w, err)
		return
	}

	var env BatchEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, apperror.Wrap(err, apperror.CodeValidation, "malformed JSON body"))
		return
	}
	env.ReceivedAt = time.Now()

	if verr := g.validator.ValidateEnvelope(&env); verr != nil {
		if len(env.Metrics) > g.maxBatch() {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"code":    apperror.CodeValidation,
				"message": verr.Error(),
			})
			return
		}
		writeError(w, verr)
		return
	}

	validation := g.validator.ValidateSamples(&env)
	if validation.HasErrors() {
		atomic.AddUint64(&g.rejected, uint64(len(validation.Errors)))
		writeValidationErrors(w, validation)
		return
	}

	raw, aggregatable := g.partitionSamples(env.Metrics)

	allSamples := raw
	if err := g.publisher.Publish(r.Context(), env.ServiceName, allSamples, false, 0); err != nil {
		atomic.AddUint64(&g.publishErr, 1)
		writeError(w, err)
		return
	}

	for _, s := range aggregatable {
		g.preagg.Add(s)
	}
	if g.cfg.PreaggShards > 0 && g.preagg.KeyCount() >= 10000 {
		g.flushPreagg(r.Context())
	}

	atomic.AddUint64(&g.accepted, uint64(len(env.Metrics)))
	atomic.AddUint64(&g.published, uint64(len(allSamples)))
	metrics.Get().RecordSamplesAccepted(env.ServiceName, len(env.Metrics))

	w.WriteHeader(http.StatusAccepted)
}

// partitionSamples splits samples into ones published immediately (no
// endpoint, so pre-aggregation cannot apply) and ones folded into the
// pre-aggregation buffer.
func (g *Gateway) partitionSamples(samples []Sample) (raw []Sample, aggregatable []Sample) {
	if g.cfg.PreaggShards <= 0 {
		return samples, nil
	}
	for _, s := range samples {
		if s.Endpoint == "" {
			raw = append(raw, s)
		} else {
			aggregatable = append(aggregatable, s)
		}
	}
	return raw, aggregatable
}

// FlushPreagg publishes one aggregated record per buffered aggregation key,
// grouped by service so each publish call keys the bus partition correctly.
// Called periodically by the server on preagg_flush_interval.
func (g *Gateway) FlushPreagg() {
	g.flushPreagg(context.Background())
}

func (g *Gateway) flushPreagg(ctx context.Context) {
	samples := g.preagg.Flush()
	if len(samples) == 0 {
		return
	}

	byService := make(map[string][]Sample)
	for _, s := range samples {
		byService[s.ServiceName] = append(byService[s.ServiceName], s)
	}

	for serviceName, group := range byService {
		if err := g.publisher.Publish(ctx, serviceName, group, true, 1); err != nil {
			logger.Log.Error("failed to publish pre-aggregated batch", "service", serviceName, "error", err)
			atomic.AddUint64(&g.publishErr, 1)
			continue
		}
		metrics.Get().RecordPreaggFlush(len(group))
	}
}

func (g *Gateway) maxBatch() int {
	if g.cfg.MaxBatchSamples <= 0 {
		return 1000
	}
	return g.cfg.MaxBatchSamples
}

// HandleStats implements GET /v1/stats.
func (g *Gateway) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Accepted:   atomic.LoadUint64(&g.accepted),
		Rejected:   atomic.LoadUint64(&g.rejected),
		Published:  atomic.LoadUint64(&g.published),
		PublishErr: atomic.LoadUint64(&g.publishErr),
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealthz implements GET /healthz.
func (g *Gateway) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleReadyz implements GET /readyz.
func (g *Gateway) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if g.readyFn != nil && !g.readyFn() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	writeJSON(w, status, map[string]any{
		"code":    apperror.Code(err),
		"message": err.Error(),
	})
}

func writeValidationErrors(w http.ResponseWriter, v *apperror.ValidationErrors) {
	errs := make([]SampleError, 0, len(v.Errors))
	for _, e := range v.Errors {
		errs = append(errs, SampleError{Index: e.Index, Field: e.Field, Code: string(e.Code), Message: e.Message})
	}
	writeJSON(w, http.StatusBadRequest, ValidationResponse{Errors: errs})
}
