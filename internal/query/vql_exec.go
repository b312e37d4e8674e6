package query

import (
	"context"
	"time"

	"github.com/krishnamouli8/vantage/internal/query/dsl"
	"github.com/krishnamouli8/vantage/internal/store"
)

// runVQL executes a parsed VQL query against the store. A query with any
// aggregate-function projection goes through QueryAggregates; a plain
// column/"*" projection goes through QueryRange. This mirrors the two
// query shapes the store itself exposes rather than inventing a third.
func (h *Handler) runVQL(ctx context.Context, q *dsl.Query) ([]map[string]any, error) {
	filter := whereToFilter(q.Where)
	window := whereToWindow(q.Where)

	if hasAggregate(q.Projections) {
		funcs := make([]store.AggregateFunc, 0, len(q.Projections))
		for _, p := range q.Projections {
			funcs = append(funcs, dslFuncToStoreFunc(p.Func))
		}
		groupBy := ""
		if len(q.GroupBy) > 0 {
			groupBy = q.GroupBy[0]
		}
		buckets, err := h.store.QueryAggregates(ctx, filter, window, time.Minute, groupBy, funcs)
		if err != nil {
			return nil, err
		}
		if len(buckets) > q.Limit {
			buckets = buckets[:q.Limit]
		}
		rows := make([]map[string]any, 0, len(buckets))
		for _, b := range buckets {
			row := map[string]any{"bucket_start": b.BucketStart, "count": b.Count, "error_count": b.ErrorCount}
			if b.GroupKey != "" {
				row["group"] = b.GroupKey
			}
			for _, p := range q.Projections {
				row[string(p.Func)] = b.Values[dslFuncToStoreFunc(p.Func)]
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	storeRows, err := h.store.QueryRange(ctx, filter, window, q.Limit)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(storeRows))
	for _, r := range storeRows {
		rows = append(rows, rowToMap(r, q.Projections))
	}
	return rows, nil
}

func hasAggregate(projections []dsl.Projection) bool {
	for _, p := range projections {
		if p.Func != dsl.FuncStar {
			return true
		}
	}
	return false
}

func dslFuncToStoreFunc(f dsl.Func) store.AggregateFunc {
	switch f {
	case dsl.FuncAvg:
		return store.FuncAvg
	case dsl.FuncSum:
		return store.FuncSum
	case dsl.FuncMin:
		return store.FuncMin
	case dsl.FuncMax:
		return store.FuncMax
	case dsl.FuncCount:
		return store.FuncCount
	case dsl.FuncP50:
		return store.FuncP50
	case dsl.FuncP95:
		return store.FuncP95
	case dsl.FuncP99:
		return store.FuncP99
	default:
		return store.FuncAvg
	}
}

func whereToFilter(conds []dsl.Condition) store.Filter {
	var f store.Filter
	for _, c := range conds {
		if c.Op != "=" {
			continue
		}
		switch c.Column {
		case "service_name":
			f.ServiceName, _ = c.Value.(string)
		case "metric_name":
			f.MetricName, _ = c.Value.(string)
		case "endpoint":
			f.Endpoint, _ = c.Value.(string)
		case "method":
			f.Method, _ = c.Value.(string)
		case "environment":
			f.Environment, _ = c.Value.(string)
		case "status_code":
			if v, ok := c.Value.(int64); ok {
				f.StatusCode = int(v)
			}
		}
	}
	return f
}

// whereToWindow derives [Start, End) from any timestamp comparisons in the
// WHERE clause, defaulting to the last hour when none are given.
func whereToWindow(conds []dsl.Condition) store.TimeWindow {
	w := store.TimeWindow{Start: time.Now().Add(-time.Hour), End: time.Now()}
	for _, c := range conds {
		if c.Column != "timestamp" {
			continue
		}
		t, ok := c.Value.(time.Time)
		if !ok {
			continue
		}
		switch c.Op {
		case ">=", ">":
			w.Start = t
		case "<=", "<":
			w.End = t
		}
	}
	return w
}

func rowToMap(r store.Row, projections []dsl.Projection) map[string]any {
	full := map[string]any{
		"timestamp":    r.Timestamp,
		"service_name": r.ServiceName,
		"metric_name":  r.MetricName,
		"metric_type":  r.MetricType,
		"value":        r.Value,
		"endpoint":     r.Endpoint,
		"method":       r.Method,
		"status_code":  r.StatusCode,
		"duration_ms":  r.DurationMs,
		"trace_id":     r.TraceID,
		"span_id":      r.SpanID,
		"environment":  r.Environment,
	}
	if len(projections) == 1 && projections[0].Column == "*" {
		return full
	}
	out := make(map[string]any, len(projections))
	for _, p := range projections {
		out[p.Column] = full[p.Column]
	}
	return out
}
