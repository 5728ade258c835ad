package render

import (
	"fmt"
	"strings"
)

// GroupBy selects how multi-engine output is arranged for display.
type GroupBy string

const (
	// GroupByType shows stdout of every engine, then stderr, then errors.
	GroupByType GroupBy = "type"
	// GroupByEngine shows all output of one engine together.
	GroupByEngine GroupBy = "engine"
	// GroupByOrder collates output line by line across engines.
	GroupByOrder GroupBy = "order"
)

// ParseGroupBy validates a grouping name. The empty string means GroupByType.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByType:
		return GroupByType, nil
	case GroupByEngine:
		return GroupByEngine, nil
	case GroupByOrder:
		return GroupByOrder, nil
	default:
		return "", fmt.Errorf("unknown output grouping %q (choose engine, order or type)", s)
	}
}
