// Package dsl implements the restricted read-only query language exposed
// at POST /vql/execute: a small SQL subset over a single whitelisted table,
// parsed by hand rather than handed to a real SQL engine so every
// identifier, operator, and literal can be validated before it ever touches
// the store.
package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/krishnamouli8/vantage/pkg/apperror"
)

// Func names a projection aggregate.
type Func string

const (
	FuncStar  Func = ""
	FuncAvg   Func = "AVG"
	FuncSum   Func = "SUM"
	FuncMin   Func = "MIN"
	FuncMax   Func = "MAX"
	FuncCount Func = "COUNT"
	FuncP50   Func = "P50"
	FuncP95   Func = "P95"
	FuncP99   Func = "P99"
)

var funcNames = map[string]Func{
	"AVG": FuncAvg, "SUM": FuncSum, "MIN": FuncMin, "MAX": FuncMax,
	"COUNT": FuncCount, "P50": FuncP50, "P95": FuncP95, "P99": FuncP99,
}

// rejected are write/DDL keywords that must never appear in the query,
// checked against every identifier-shaped token before it is otherwise
// accepted.
var rejectedKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "ATTACH": true, "DETACH": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true,
}

// allowedColumns is the identifier whitelist: the one queryable table and
// its declared columns. No other identifier is ever accepted, closing off
// any path to referencing an unexpected table or column.
const tableName = "metrics"

var allowedColumns = map[string]bool{
	"timestamp": true, "service_name": true, "metric_name": true,
	"metric_type": true, "value": true, "endpoint": true, "method": true,
	"status_code": true, "duration_ms": true, "trace_id": true,
	"span_id": true, "environment": true,
}

// Projection is one selected column or aggregate expression.
type Projection struct {
	Func   Func
	Column string // "*" for FuncStar with no column
}

// Condition is one WHERE term: column op literal.
type Condition struct {
	Column string
	Op     string
	Value  any // string, float64, int64, or time.Time
}

// Query is a fully parsed and validated VQL statement.
type Query struct {
	Projections []Projection
	Table       string
	Where       []Condition
	GroupBy     []string
	OrderBy     string
	OrderDesc   bool
	Limit       int
}

const maxLimit = 10000
const maxWhereTerms = 10

var comparisonOps = []string{"!=", "<=", ">=", "=", "<", ">"}

// ParseError carries the offending token for a 400 invalid_query response.
type ParseError struct {
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid_query: %s (near %q)", e.Msg, e.Token)
}

// Parse validates and parses src into a Query, or returns an
// apperror.Error with CodeValidation carrying the ParseError's message and
// the offending token as its "token" detail (the *ParseError itself is not
// in the error chain).
func Parse(src string) (*Query, error) {
	p := &parser{tokens: tokenize(src)}
	q, err := p.parseQuery()
	if err != nil {
		var pe *ParseError
		if asParseError(err, &pe) {
			return nil, apperror.New(apperror.CodeValidation, pe.Error()).WithDetails("token", pe.Token)
		}
		return nil, apperror.Wrap(err, apperror.CodeValidation, "invalid_query")
	}
	return q, nil
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) peekUpper() string {
	return strings.ToUpper(p.peek())
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expectUpper(kw string) error {
	if p.peekUpper() != kw {
		return &ParseError{Token: p.peek(), Msg: fmt.Sprintf("expected %s", kw)}
	}
	p.next()
	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	for _, tok := range p.tokens {
		if rejectedKeywords[strings.ToUpper(tok)] {
			return nil, &ParseError{Token: tok, Msg: "write statements are not permitted"}
		}
		if tok == ";" {
			return nil, &ParseError{Token: tok, Msg: "multiple statements are not permitted"}
		}
	}

	if err := p.expectUpper("SELECT"); err != nil {
		return nil, err
	}

	projections, err := p.parseProjection()
	if err != nil {
		return nil, err
	}

	if err := p.expectUpper("FROM"); err != nil {
		return nil, err
	}

	table := p.next()
	if table != tableName {
		return nil, &ParseError{Token: table, Msg: "unknown table"}
	}

	q := &Query{Projections: projections, Table: table, Limit: maxLimit}

	if p.peekUpper() == "WHERE" {
		p.next()
		conds, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		q.Where = conds
	}

	if p.peekUpper() == "GROUP" {
		p.next()
		if err := p.expectUpper("BY"); err != nil {
			return nil, err
		}
		cols, err := p.parseIdentList()
		if err != nil {
			return nil, err
		}
		q.GroupBy = cols
	}

	if p.peekUpper() == "ORDER" {
		p.next()
		if err := p.expectUpper("BY"); err != nil {
			return nil, err
		}
		col := p.next()
		if !allowedColumns[col] {
			return nil, &ParseError{Token: col, Msg: "unknown column"}
		}
		q.OrderBy = col
		if p.peekUpper() == "ASC" {
			p.next()
		} else if p.peekUpper() == "DESC" {
			p.next()
			q.OrderDesc = true
		}
	}

	if p.peekUpper() == "LIMIT" {
		p.next()
		tok := p.next()
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			return nil, &ParseError{Token: tok, Msg: "invalid limit"}
		}
		if n > maxLimit {
			return nil, &ParseError{Token: tok, Msg: fmt.Sprintf("limit exceeds maximum of %d", maxLimit)}
		}
		q.Limit = n
	}

	if p.pos != len(p.tokens) {
		return nil, &ParseError{Token: p.peek(), Msg: "unexpected trailing token"}
	}

	return q, nil
}

func (p *parser) parseProjection() ([]Projection, error) {
	if p.peek() == "*" {
		p.next()
		return []Projection{{Func: FuncStar, Column: "*"}}, nil
	}

	var out []Projection
	for {
		proj, err := p.parseAggExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, proj)
		if p.peek() != "," {
			break
		}
		p.next()
	}
	return out, nil
}

func (p *parser) parseAggExpr() (Projection, error) {
	tok := p.peek()
	upper := strings.ToUpper(tok)
	if fn, ok := funcNames[upper]; ok && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1] == "(" {
		p.next() // func name
		p.next() // "("
		col := p.next()
		if !allowedColumns[col] {
			return Projection{}, &ParseError{Token: col, Msg: "unknown column"}
		}
		if p.next() != ")" {
			return Projection{}, &ParseError{Token: tok, Msg: "expected closing paren"}
		}
		return Projection{Func: fn, Column: col}, nil
	}

	col := p.next()
	if !allowedColumns[col] {
		return Projection{}, &ParseError{Token: col, Msg: "unknown column"}
	}
	return Projection{Func: FuncStar, Column: col}, nil
}

func (p *parser) parseIdentList() ([]string, error) {
	var out []string
	for {
		col := p.next()
		if !allowedColumns[col] {
			return nil, &ParseError{Token: col, Msg: "unknown column"}
		}
		out = append(out, col)
		if p.peek() != "," {
			break
		}
		p.next()
	}
	return out, nil
}

func (p *parser) parseWhere() ([]Condition, error) {
	var conds []Condition
	for {
		if len(conds) >= maxWhereTerms {
			return nil, &ParseError{Token: p.peek(), Msg: fmt.Sprintf("too many WHERE terms, max %d", maxWhereTerms)}
		}
		col := p.next()
		if !allowedColumns[col] {
			return nil, &ParseError{Token: col, Msg: "unknown column"}
		}

		op := ""
		for _, candidate := range comparisonOps {
			if strings.HasPrefix(p.peek(), candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			return nil, &ParseError{Token: p.peek(), Msg: "expected comparison operator"}
		}
		p.next()

		litTok := p.next()
		val, err := parseLiteral(litTok)
		if err != nil {
			return nil, &ParseError{Token: litTok, Msg: "invalid literal"}
		}

		conds = append(conds, Condition{Column: col, Op: op, Value: val})

		if p.peekUpper() != "AND" {
			break
		}
		p.next()
	}
	return conds, nil
}

func parseLiteral(tok string) (any, error) {
	if strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") && len(tok) >= 2 {
		return strings.Trim(tok, "'"), nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}
	if t, err := time.Parse(time.RFC3339, tok); err == nil {
		return t, nil
	}
	return nil, fmt.Errorf("unrecognized literal %q", tok)
}

// Unparse renders q back into VQL text such that Parse(Unparse(q)) produces
// a Query equal to q for every Query Parse can produce — the inverse of
// Parse, not a general pretty-printer for hand-written queries.
func Unparse(q *Query) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(unparseProjections(q.Projections))
	b.WriteString(" FROM ")
	b.WriteString(q.Table)

	if len(q.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(unparseWhere(q.Where))
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.GroupBy, ", "))
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
		if q.OrderDesc {
			b.WriteString(" DESC")
		}
	}

	fmt.Fprintf(&b, " LIMIT %d", q.Limit)

	return b.String()
}

func unparseProjections(projs []Projection) string {
	if len(projs) == 1 && projs[0].Func == FuncStar && projs[0].Column == "*" {
		return "*"
	}
	parts := make([]string, len(projs))
	for i, p := range projs {
		if p.Func == FuncStar {
			parts[i] = p.Column
		} else {
			parts[i] = string(p.Func) + "(" + p.Column + ")"
		}
	}
	return strings.Join(parts, ", ")
}

func unparseWhere(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.Column + " " + c.Op + " " + unparseLiteral(c.Value)
	}
	return strings.Join(parts, " AND ")
}

// unparseLiteral formats a Condition.Value the way parseLiteral expects to
// read it back: quoted strings, decimal integers, shortest round-tripping
// float, RFC3339 timestamps.
func unparseLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + x + "'"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// tokenize splits src into whitespace-delimited tokens, treating
// parentheses, commas, quoted strings, and operator clusters as their own
// tokens.
func tokenize(src string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'':
			flush()
			var lit strings.Builder
			lit.WriteRune(c)
			i++
			for i < len(runes) && runes[i] != '\'' {
				lit.WriteRune(runes[i])
				i++
			}
			if i < len(runes) {
				lit.WriteRune(runes[i])
			}
			tokens = append(tokens, lit.String())
		case c == '(' || c == ')' || c == ',' || c == ';':
			flush()
			tokens = append(tokens, string(c))
		case c == '=' || c == '!' || c == '<' || c == '>':
			flush()
			var op strings.Builder
			op.WriteRune(c)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op.WriteRune('=')
				i++
			}
			tokens = append(tokens, op.String())
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return tokens
}
