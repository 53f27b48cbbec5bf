package monitor

import (
	"encoding/json"
	"fmt"

	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/itchyny/gojq"
)

// CompileFilters parses and compiles jq expressions used to select published events.
func CompileFilters(exprs []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return compiled, nil
}

// MatchesFilters reports whether every filter yields a truthy first value for the event.
// An event always matches an empty filter list.
func MatchesFilters(event *natspkg.TransferEvent, filters []*gojq.Code) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	// gojq needs plain maps and slices, not structs
	raw, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("failed to marshal transfer event: %w", err)
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return false, fmt.Errorf("failed to decode transfer event: %w", err)
	}

	for _, code := range filters {
		iter := code.Run(input)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("jq filter failed: %w", err)
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
