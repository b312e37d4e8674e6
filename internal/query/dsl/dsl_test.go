package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnamouli8/vantage/pkg/apperror"
)

func TestParse_SimpleSelect(t *testing.T) {
	q, err := Parse("SELECT AVG(value) FROM metrics WHERE service_name = 'checkout' LIMIT 100")
	require.NoError(t, err)
	require.Len(t, q.Projections, 1)
	assert.Equal(t, FuncAvg, q.Projections[0].Func)
	assert.Equal(t, "value", q.Projections[0].Column)
	require.Len(t, q.Where, 1)
	assert.Equal(t, "service_name", q.Where[0].Column)
	assert.Equal(t, "checkout", q.Where[0].Value)
	assert.Equal(t, 100, q.Limit)
}

func TestParse_DefaultsLimitWhenOmitted(t *testing.T) {
	q, err := Parse("SELECT * FROM metrics")
	require.NoError(t, err)
	assert.Equal(t, maxLimit, q.Limit)
}

func TestParse_RejectsWriteStatement(t *testing.T) {
	_, err := Parse("INSERT INTO metrics VALUES (1)")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeValidation, apperror.Code(err))
}

func TestParse_RejectsUnknownColumn(t *testing.T) {
	_, err := Parse("SELECT secret_column FROM metrics")
	require.Error(t, err)
}

func TestParse_RejectsUnknownTable(t *testing.T) {
	_, err := Parse("SELECT * FROM users")
	require.Error(t, err)
}

func TestParse_RejectsLimitAboveMax(t *testing.T) {
	_, err := Parse("SELECT * FROM metrics LIMIT 50000")
	require.Error(t, err)
}

func TestParse_RejectsTooManyWhereTerms(t *testing.T) {
	clauses := ""
	for i := 0; i < 11; i++ {
		if i > 0 {
			clauses += " AND "
		}
		clauses += "status_code = 200"
	}
	_, err := Parse("SELECT * FROM metrics WHERE " + clauses)
	require.Error(t, err)
}

func TestParse_RejectsSemicolon(t *testing.T) {
	_, err := Parse("SELECT * FROM metrics; DROP TABLE metrics")
	require.Error(t, err)
}

func TestParse_GroupByAndOrderBy(t *testing.T) {
	q, err := Parse("SELECT endpoint, COUNT(value) FROM metrics GROUP BY endpoint ORDER BY endpoint DESC LIMIT 10")
	require.NoError(t, err)
	assert.Equal(t, []string{"endpoint"}, q.GroupBy)
	assert.Equal(t, "endpoint", q.OrderBy)
	assert.True(t, q.OrderDesc)
}

// TestUnparse_RoundTrips checks parse(unparse(q)) == q for every query shape
// the parser accepts: star and aggregate projections, WHERE terms over each
// literal kind, GROUP BY, ORDER BY (both directions), and an explicit LIMIT.
func TestUnparse_RoundTrips(t *testing.T) {
	cases := []string{
		"SELECT * FROM metrics LIMIT 10000",
		"SELECT AVG(value) FROM metrics WHERE service_name = 'checkout' LIMIT 100",
		"SELECT endpoint, COUNT(value) FROM metrics GROUP BY endpoint ORDER BY endpoint DESC LIMIT 10",
		"SELECT status_code FROM metrics WHERE status_code = 500 LIMIT 25",
		"SELECT value FROM metrics WHERE value > 1.5 AND value <= 99.9 LIMIT 50",
		"SELECT P95(value) FROM metrics WHERE timestamp >= 2026-01-01T00:00:00Z ORDER BY timestamp LIMIT 5000",
		"SELECT method, SUM(value) FROM metrics GROUP BY method, endpoint LIMIT 1000",
	}

	for _, src := range cases {
		q, err := Parse(src)
		require.NoError(t, err, src)

		unparsed := Unparse(q)
		q2, err := Parse(unparsed)
		require.NoError(t, err, "reparsing %q (from %q)", unparsed, src)

		assert.Equal(t, q, q2, "round trip of %q produced %q", src, unparsed)
	}
}
