package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectorKind identifies which of the three target forms a Selector holds.
type SelectorKind int

const (
	// SelectAll addresses every engine in the pool.
	SelectAll SelectorKind = iota
	// SelectList addresses an explicit list of engine ids.
	SelectList
	// SelectRange addresses a contiguous slice of the pool's id list.
	SelectRange
)

// Selector specifies which engines a command addresses. The zero value selects all engines.
//
// Text forms accepted by ParseSelector:
//
//	all
//	0,1,2   or  [0, 1, 2]   or  3
//	start:stop[:step]  (each part optional, negatives count from the end)
type Selector struct {
	kind  SelectorKind
	ids   []int
	start *int
	stop  *int
	step  *int
}

// AllEngines returns the selector addressing the whole pool.
func AllEngines() Selector {
	return Selector{kind: SelectAll}
}

// EngineList returns a selector for an explicit list of ids.
func EngineList(ids ...int) Selector {
	cp := make([]int, len(ids))
	copy(cp, ids)
	return Selector{kind: SelectList, ids: cp}
}

// EngineRange returns a slice-style selector. nil bounds are open.
func EngineRange(start, stop, step *int) Selector {
	return Selector{kind: SelectRange, start: start, stop: stop, step: step}
}

// Kind reports the selector form.
func (s Selector) Kind() SelectorKind {
	return s.kind
}

// IDs returns a copy of the explicit ids for list selectors, nil otherwise.
func (s Selector) IDs() []int {
	if s.kind != SelectList {
		return nil
	}
	cp := make([]int, len(s.ids))
	copy(cp, s.ids)
	return cp
}

// ParseSelector parses the constrained target grammar. The input is never evaluated.
func ParseSelector(text string) (Selector, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Selector{}, &ConfigError{Field: "targets", Value: text, Reason: "empty target selector"}
	}
	if strings.EqualFold(raw, "all") {
		return AllEngines(), nil
	}
	if strings.Contains(raw, ":") {
		return parseRange(text, raw)
	}
	return parseList(text, raw)
}

func parseRange(orig, raw string) (Selector, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: "range has more than three parts"}
	}
	bounds := make([]*int, 3)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: fmt.Sprintf("range bound %q is not an integer", p)}
		}
		bounds[i] = &n
	}
	if bounds[2] != nil && *bounds[2] == 0 {
		return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: "range step cannot be zero"}
	}
	return EngineRange(bounds[0], bounds[1], bounds[2]), nil
}

func parseList(orig, raw string) (Selector, error) {
	body := raw
	if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "(") {
		closer := "]"
		if body[0] == '(' {
			closer = ")"
		}
		if !strings.HasSuffix(body, closer) {
			return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: "unbalanced brackets"}
		}
		body = body[1 : len(body)-1]
	}

	var ids []int
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			// tolerate a trailing comma: "(0,)"
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: fmt.Sprintf("%q is not an engine id", field)}
		}
		if n < 0 {
			return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: fmt.Sprintf("engine id %d is negative", n)}
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return Selector{}, &ConfigError{Field: "targets", Value: orig, Reason: "target list is empty"}
	}
	return EngineList(ids...), nil
}

// Resolve expands the selector against the pool's ordered engine ids.
// List selectors are returned as given; the pool rejects unknown ids at submission.
func (s Selector) Resolve(pool []int) []int {
	switch s.kind {
	case SelectList:
		return s.IDs()
	case SelectRange:
		return s.sliceOf(pool)
	default:
		out := make([]int, len(pool))
		copy(out, pool)
		return out
	}
}

// sliceOf applies slice semantics (start:stop:step) to ids.
func (s Selector) sliceOf(ids []int) []int {
	n := len(ids)
	step := 1
	if s.step != nil {
		step = *s.step
	}

	adjust := func(v *int, dflt int) int {
		if v == nil {
			return dflt
		}
		i := *v
		if i < 0 {
			i += n
			if i < 0 {
				if step < 0 {
					return -1
				}
				return 0
			}
			return i
		}
		if i >= n {
			if step < 0 {
				return n - 1
			}
			return n
		}
		return i
	}

	var start, stop int
	if step > 0 {
		start = adjust(s.start, 0)
		stop = adjust(s.stop, n)
	} else {
		start = adjust(s.start, n-1)
		stop = adjust(s.stop, -1)
	}

	out := []int{}
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, ids[i])
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, ids[i])
		}
	}
	return out
}

// String renders the selector in the grammar accepted by ParseSelector.
func (s Selector) String() string {
	switch s.kind {
	case SelectList:
		return FormatIDs(s.ids)
	case SelectRange:
		b := func(v *int) string {
			if v == nil {
				return ""
			}
			return strconv.Itoa(*v)
		}
		out := b(s.start) + ":" + b(s.stop)
		if s.step != nil {
			out += ":" + b(s.step)
		}
		return out
	default:
		return "all"
	}
}

// FormatIDs renders ids as "[0, 1, 2]".
func FormatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// AbbreviateIDs renders ids like FormatIDs, eliding the middle of lists longer than ten.
func AbbreviateIDs(ids []int) string {
	if len(ids) <= 10 {
		return FormatIDs(ids)
	}
	head := FormatIDs(ids[:4])
	tail := FormatIDs(ids[len(ids)-4:])
	return head[:len(head)-1] + ", ..., " + tail[1:]
}
