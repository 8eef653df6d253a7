// Package fuzz implements the fuzzing engine. It walks a graph model,
// drives the target around every mutation, stores reports of failed
// tests in the session store and exposes its state to the web
// interface.
package fuzz

import (
	"fmt"
	"strconv"
	"strings"
)

// TestList enumerates the test numbers of a session in ascending
// order. A list is bound to the model's last mutation index before use,
// which resolves open ended ranges and validates bounds.
type TestList interface {
	// Bind clamps the list to [0, lastIndex] and validates it.
	Bind(lastIndex int) error
	// Next returns the next test number.
	Next() (int, bool)
	// Count returns the total number of tests in the bound list.
	Count() int
	// SkipBelow drops tests below n, used when resuming a session.
	SkipBelow(n int)
	// String returns the textual form stored in the session info.
	String() string
}

// StartEndList runs the contiguous tests [start, end].
type StartEndList struct {
	start, end int
	cur        int
	bound      bool
}

// NewStartEndList returns a list over [start, end]. An end of -1 means
// up to the model's last mutation.
func NewStartEndList(start, end int) *StartEndList {
	return &StartEndList{start: start, end: end, cur: start}
}

// Bind implements TestList.
func (l *StartEndList) Bind(lastIndex int) error {
	if l.end == -1 || l.end > lastIndex {
		l.end = lastIndex
	}
	if l.start < 0 || l.start > l.end {
		return fmt.Errorf("test range [%d,%d] is empty or negative", l.start, l.end)
	}
	l.cur = l.start
	l.bound = true
	return nil
}

// Next implements TestList.
func (l *StartEndList) Next() (int, bool) {
	if !l.bound || l.cur > l.end {
		return 0, false
	}
	n := l.cur
	l.cur++
	return n, true
}

// Count implements TestList.
func (l *StartEndList) Count() int { return l.end - l.start + 1 }

// SkipBelow implements TestList.
func (l *StartEndList) SkipBelow(n int) {
	if l.cur < n {
		l.cur = n
	}
}

// String implements TestList.
func (l *StartEndList) String() string { return fmt.Sprintf("%d-%d", l.start, l.end) }

type span struct {
	start int
	end   int // -1 while unbound means open ended
}

// RangesList runs an explicit set of tests given as a range expression
// such as "1,3-5,10-". Ranges must be ascending and must not overlap;
// a trailing open range runs to the model's last mutation.
type RangesList struct {
	expr  string
	spans []span
	si    int
	cur   int
	bound bool
}

// ParseRanges parses a range expression into a RangesList.
func ParseRanges(expr string) (*RangesList, error) {
	trimmed := strings.ReplaceAll(expr, " ", "")
	if trimmed == "" {
		return nil, fmt.Errorf("empty test list")
	}
	var spans []span
	for _, tok := range strings.Split(trimmed, ",") {
		sp, err := parseSpan(tok)
		if err != nil {
			return nil, fmt.Errorf("test list %q: %w", expr, err)
		}
		if n := len(spans); n > 0 {
			prev := spans[n-1]
			if prev.end == -1 {
				return nil, fmt.Errorf("test list %q: open range %d- must be last", expr, prev.start)
			}
			if sp.start <= prev.end {
				return nil, fmt.Errorf("test list %q: ranges must be ascending and disjoint", expr)
			}
		}
		spans = append(spans, sp)
	}
	return &RangesList{expr: trimmed, spans: spans}, nil
}

func parseSpan(tok string) (span, error) {
	switch parts := strings.SplitN(tok, "-", 2); {
	case tok == "":
		return span{}, fmt.Errorf("empty range")
	case len(parts) == 1:
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 0 {
			return span{}, fmt.Errorf("bad test number %q", tok)
		}
		return span{start: n, end: n}, nil
	default:
		start, err := strconv.Atoi(parts[0])
		if err != nil || start < 0 {
			return span{}, fmt.Errorf("bad range start %q", tok)
		}
		if parts[1] == "" {
			return span{start: start, end: -1}, nil
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil || end < start {
			return span{}, fmt.Errorf("bad range %q", tok)
		}
		return span{start: start, end: end}, nil
	}
}

// Bind implements TestList.
func (l *RangesList) Bind(lastIndex int) error {
	for i := range l.spans {
		if l.spans[i].end == -1 {
			l.spans[i].end = lastIndex
		}
		if l.spans[i].start > lastIndex {
			return fmt.Errorf("test list %q: test %d beyond last mutation %d", l.expr, l.spans[i].start, lastIndex)
		}
		if l.spans[i].end > lastIndex {
			l.spans[i].end = lastIndex
		}
	}
	l.si = 0
	if len(l.spans) > 0 {
		l.cur = l.spans[0].start
	}
	l.bound = true
	return nil
}

// Next implements TestList.
func (l *RangesList) Next() (int, bool) {
	if !l.bound {
		return 0, false
	}
	for l.si < len(l.spans) {
		sp := l.spans[l.si]
		if l.cur < sp.start {
			l.cur = sp.start
		}
		if l.cur <= sp.end {
			n := l.cur
			l.cur++
			return n, true
		}
		l.si++
		if l.si < len(l.spans) {
			l.cur = l.spans[l.si].start
		}
	}
	return 0, false
}

// Count implements TestList.
func (l *RangesList) Count() int {
	total := 0
	for _, sp := range l.spans {
		total += sp.end - sp.start + 1
	}
	return total
}

// SkipBelow implements TestList.
func (l *RangesList) SkipBelow(n int) {
	for l.si < len(l.spans) && l.spans[l.si].end < n {
		l.si++
	}
	if l.si < len(l.spans) {
		l.cur = l.spans[l.si].start
		if l.cur < n {
			l.cur = n
		}
	}
}

// String implements TestList.
func (l *RangesList) String() string { return l.expr }
