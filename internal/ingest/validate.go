package ingest

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/config"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,255}$`)

var validMetricTypes = map[string]bool{
	"counter":   true,
	"gauge":     true,
	"histogram": true,
	"summary":   true,
}

// Validator checks batch envelopes and individual samples against the
// schema and range rules of the data model.
type Validator struct {
	cfg config.IngestConfig
}

// NewValidator builds a Validator from the ingest configuration section.
func NewValidator(cfg config.IngestConfig) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateEnvelope checks envelope-level constraints (batch size) and
// returns a validation-kind *apperror.Error if violated, or nil.
func (v *Validator) ValidateEnvelope(env *BatchEnvelope) *apperror.Error {
	if len(env.Metrics) == 0 {
		return apperror.NewWithField(apperror.CodeValidation, "batch must contain at least one sample", "metrics")
	}
	maxBatch := v.cfg.MaxBatchSamples
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	if len(env.Metrics) > maxBatch {
		return apperror.NewWithField(apperror.CodeValidation, fmt.Sprintf("batch exceeds max_batch_samples (%d)", maxBatch), "metrics")
	}
	return nil
}

// ValidateSamples checks every sample in env and returns the aggregated
// per-index error list. An empty result means every sample is acceptable.
func (v *Validator) ValidateSamples(env *BatchEnvelope) *apperror.ValidationErrors {
	result := apperror.NewValidationErrors()

	maxLabels := v.cfg.MaxLabelsPerSample
	if maxLabels <= 0 {
		maxLabels = 32
	}
	maxKeyLen := v.cfg.MaxLabelKeyLen
	if maxKeyLen <= 0 {
		maxKeyLen = 128
	}
	maxValLen := v.cfg.MaxLabelValueLen
	if maxValLen <= 0 {
		maxValLen = 128
	}
	skew := v.cfg.ClockSkewTolerance
	if skew <= 0 {
		skew = 5 * time.Minute
	}

	now := time.Now()

	for i, s := range env.Metrics {
		if s.ServiceName == "" {
			result.AddAtIndex(apperror.CodeMissingField, "service_name is required", "service_name", i)
		} else if !identPattern.MatchString(s.ServiceName) {
			result.AddAtIndex(apperror.CodeValidation, "service_name has invalid characters or length", "service_name", i)
		}

		if s.MetricName == "" {
			result.AddAtIndex(apperror.CodeMissingField, "metric_name is required", "metric_name", i)
		} else if !identPattern.MatchString(s.MetricName) {
			result.AddAtIndex(apperror.CodeValidation, "metric_name has invalid characters or length", "metric_name", i)
		}

		if !validMetricTypes[s.MetricType] {
			result.AddAtIndex(apperror.CodeValidation, "metric_type must be one of counter/gauge/histogram/summary", "metric_type", i)
		}

		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			result.AddAtIndex(apperror.CodeNonFinite, "value must be finite", "value", i)
		}

		if s.StatusCode != 0 && (s.StatusCode < 100 || s.StatusCode > 599) {
			result.AddAtIndex(apperror.CodeValidation, "status_code must be in [100, 599]", "status_code", i)
		}

		if s.DurationMs < 0 {
			result.AddAtIndex(apperror.CodeValidation, "duration_ms must be non-negative", "duration_ms", i)
		}

		if len(s.Tags) > maxLabels {
			result.AddAtIndex(apperror.CodeInvalidLabel, fmt.Sprintf("tags exceed max_labels_per_sample (%d)", maxLabels), "tags", i)
		}
		for k, val := range s.Tags {
			if len(k) > maxKeyLen || len(val) > maxValLen {
				result.AddAtIndex(apperror.CodeInvalidLabel, "tag key or value exceeds length limit", "tags", i)
				break
			}
		}

		if s.Timestamp.IsZero() {
			result.AddAtIndex(apperror.CodeMissingField, "timestamp is required", "timestamp", i)
		} else if d := s.Timestamp.Sub(now); d > skew || -d > skew {
			result.AddAtIndex(apperror.CodeInvalidTimestamp, "timestamp outside accepted clock-skew window", "timestamp", i)
		}
	}

	return result
}
