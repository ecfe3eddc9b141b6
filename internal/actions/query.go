package actions

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Take selects which end of the filtered result set a count cap keeps.
type Take string

const (
	TakeFirst Take = "first"
	TakeLast  Take = "last"
)

type axisKind int

const (
	axisAll axisKind = iota
	axisExact
	axisRange
	axisLast
)

// axisExpr is one parsed filter axis. For axisExact only lo is set, for
// axisRange lo <= hi holds, for axisLast last holds the tail length.
type axisExpr struct {
	kind axisKind
	lo   int64
	hi   int64
	last uint64
}

// Filter is a parsed, resolved query over the action log. All axes are ANDed.
type Filter struct {
	selector Selector
	id       axisExpr
	time     axisExpr
	count    *int
	take     Take
}

// NewFilter returns a filter matching every action of the selector. Tests and
// internal callers tighten it through the parse path.
func NewFilter(sel Selector) Filter {
	return Filter{selector: sel, take: TakeLast}
}

// ParseFilter resolves query string parameters into a Filter. Relative time
// tokens are resolved against now (seconds). Any unparsable token yields
// ErrBadRequest.
func ParseFilter(sel Selector, params url.Values, now int64) (Filter, error) {
	f := Filter{selector: sel, take: TakeLast}

	idParam := params.Get("id")
	if idParam != "" {
		expr, err := parseIDAxis(idParam)
		if err != nil {
			return Filter{}, err
		}
		f.id = expr
	}

	timeParam := params.Get("time")
	if timeParam != "" {
		expr, err := parseTimeAxis(timeParam, now)
		if err != nil {
			return Filter{}, err
		}
		f.time = expr
	}

	if countParam := params.Get("count"); countParam != "" {
		count, err := strconv.Atoi(countParam)
		if err != nil || count < 0 {
			return Filter{}, fmt.Errorf("%w: bad parameter: count", ErrBadRequest)
		}
		f.count = &count
	}

	if takeParam := params.Get("take"); takeParam != "" {
		switch Take(takeParam) {
		case TakeFirst, TakeLast:
			f.take = Take(takeParam)
		default:
			return Filter{}, fmt.Errorf("%w: bad parameter: take", ErrBadRequest)
		}
	}

	return f, nil
}

// RequiresAuth reports whether the filter may only be served to authenticated
// callers. Any id selection (exact, range, or last tail) reveals log
// structure and is reserved.
func (f Filter) RequiresAuth() bool {
	return f.id.kind != axisAll
}

// applyTake applies the count cap to an ascending result set, keeping the
// configured end.
func (f Filter) applyTake(matches []Action) []Action {
	if f.count == nil || len(matches) <= *f.count {
		return matches
	}
	if f.take == TakeFirst {
		return matches[:*f.count]
	}
	return matches[len(matches)-*f.count:]
}

// parseIDAxis parses the id grammar: N | N1:N2 | last | last-K.
func parseIDAxis(raw string) (axisExpr, error) {
	if raw == "last" {
		return axisExpr{kind: axisLast, last: 1}, nil
	}
	if rest, ok := strings.CutPrefix(raw, "last-"); ok {
		k, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return axisExpr{}, fmt.Errorf("%w: bad parameter: id", ErrBadRequest)
		}
		return axisExpr{kind: axisLast, last: k}, nil
	}

	lo, hi, isRange, err := splitRange(raw, parseIDBound)
	if err != nil {
		return axisExpr{}, fmt.Errorf("%w: bad parameter: id", ErrBadRequest)
	}
	if !isRange {
		return axisExpr{kind: axisExact, lo: lo}, nil
	}
	return axisExpr{kind: axisRange, lo: lo, hi: hi}, nil
}

// parseTimeAxis parses the time grammar: T | T1:T2, where each bound is an
// integer timestamp or now, now+K, now-K.
func parseTimeAxis(raw string, now int64) (axisExpr, error) {
	parse := func(tok string) (int64, error) {
		return parseTimeToken(tok, now)
	}
	lo, hi, isRange, err := splitRange(raw, parse)
	if err != nil {
		return axisExpr{}, fmt.Errorf("%w: bad parameter: time", ErrBadRequest)
	}
	if !isRange {
		return axisExpr{kind: axisExact, lo: lo}, nil
	}
	return axisExpr{kind: axisRange, lo: lo, hi: hi}, nil
}

// splitRange parses "A" or "A:B" with the given bound parser, normalizing
// ranges so lo <= hi.
func splitRange(raw string, parse func(string) (int64, error)) (lo, hi int64, isRange bool, err error) {
	first, second, found := strings.Cut(raw, ":")
	lo, err = parse(first)
	if err != nil {
		return 0, 0, false, err
	}
	if !found {
		return lo, 0, false, nil
	}
	hi, err = parse(second)
	if err != nil {
		return 0, 0, false, err
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi, true, nil
}

func parseIDBound(tok string) (int64, error) {
	id, err := strconv.ParseUint(tok, 10, 63)
	if err != nil {
		return 0, err
	}
	return int64(id), nil
}

// ResolveTimeValue resolves a wire time value from a write body against the
// server clock. It accepts the same forms as the query time grammar.
func ResolveTimeValue(tok string, now int64) (int64, error) {
	ts, err := parseTimeToken(tok, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return ts, nil
}

// parseTimeToken resolves one time bound. Accepted forms: a signed integer
// timestamp, "now", "now+K", "now-K".
func parseTimeToken(tok string, now int64) (int64, error) {
	if ts, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return ts, nil
	}
	rest, ok := strings.CutPrefix(tok, "now")
	if !ok {
		return 0, fmt.Errorf("bad time token %q", tok)
	}
	if rest == "" {
		return now, nil
	}
	if rest[0] != '+' && rest[0] != '-' {
		return 0, fmt.Errorf("bad time token %q", tok)
	}
	offset, err := strconv.ParseInt(rest[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad time token %q", tok)
	}
	if rest[0] == '-' {
		offset = -offset
	}
	return now + offset, nil
}
