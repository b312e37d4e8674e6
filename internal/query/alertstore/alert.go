// Package alertstore persists alert records to Postgres. The rest of the
// message/metric pipeline runs through ClickHouse; alerts are the one piece
// of state that benefits from transactional upserts and indexed point
// lookups, which is why they live in a relational store instead.
package alertstore

import (
	"errors"
	"time"
)

// Status names an alert's lifecycle state.
type Status string

const (
	StatusFiring   Status = "firing"
	StatusResolved Status = "resolved"
)

// Severity names an alert's severity band, driven by |z|.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one adaptive-alerting record for a (service, metric) pair.
type Alert struct {
	AlertID             string
	ServiceName         string
	MetricName          string
	Severity            Severity
	Status              Status
	CurrentValue         float64
	ExpectedMin          float64
	ExpectedMax          float64
	ThresholdBreachCount int
	FirstTriggered       time.Time
	LastTriggered        time.Time
	ResolvedAt           *time.Time
}

// ErrNotFound is returned when a lookup finds no matching alert.
var ErrNotFound = errors.New("alertstore: alert not found")
