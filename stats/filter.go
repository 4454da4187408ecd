// Copyright (c) 2025 Cloudflare, Inc.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package stats

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareOp is a comparison operator usable in a count filter.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
)

// compareOps is ordered longest first so ">=" never parses as ">" with a
// stray "=" left in the threshold.
var compareOps = []CompareOp{OpGe, OpLe, OpNe, OpGt, OpLt, OpEq}

// CountFilter restricts aggregated access totals, e.g. "> 100".
type CountFilter struct {
	Op        CompareOp
	Threshold int64
}

// ParseCountFilter parses a filter expression of the form "<op> <integer>"
// where op is one of =, !=, >, >=, < and <=. The operator is interpolated
// into a HAVING clause, so only values from this fixed set are accepted; the
// threshold is always bound as a parameter.
func ParseCountFilter(expr string) (CountFilter, error) {
	rest := strings.TrimSpace(expr)
	if rest == "" {
		return CountFilter{}, fmt.Errorf("%w: empty expression", ErrMalformedCountFilter)
	}

	var op CompareOp
	for _, candidate := range compareOps {
		if strings.HasPrefix(rest, string(candidate)) {
			op = candidate
			rest = rest[len(candidate):]
			break
		}
	}
	if op == "" {
		return CountFilter{}, fmt.Errorf("%w: %q does not start with a comparison operator", ErrMalformedCountFilter, expr)
	}

	threshold, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return CountFilter{}, fmt.Errorf("%w: %q has no integer threshold", ErrMalformedCountFilter, expr)
	}
	return CountFilter{Op: op, Threshold: threshold}, nil
}

func (f CountFilter) String() string {
	return fmt.Sprintf("%s %d", f.Op, f.Threshold)
}
