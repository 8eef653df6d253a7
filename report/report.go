// Package report implements the result object of a fuzzing test.
//
// Every layer of the stack that participates in a test (target,
// controller, monitors) issues its own report; the target merges them
// into a single tree. A report is either passed, failed with a reason,
// or errored when the test could not run at all.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Status is the outcome of a test seen by one reporter.
type Status string

// Report outcomes, ordered by severity.
const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Report accumulates key/value findings and nested sub reports. The
// effective status aggregates the severest outcome across the tree.
type Report struct {
	name    string
	keys    []string
	entries map[string]any
	order   []string
	subs    map[string]*Report
	status  Status
	reason  string
}

// New returns a passed report called name.
func New(name string) *Report {
	return &Report{
		name:    name,
		entries: map[string]any{},
		subs:    map[string]*Report{},
		status:  StatusPassed,
	}
}

// Name returns the reporter name.
func (r *Report) Name() string { return r.name }

// Add records a finding under key, replacing an earlier value.
func (r *Report) Add(key string, value any) {
	if _, ok := r.entries[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.entries[key] = value
}

// Get returns the finding under key.
func (r *Report) Get(key string) (any, bool) {
	v, ok := r.entries[key]
	return v, ok
}

// Keys returns the entry keys in insertion order.
func (r *Report) Keys() []string { return append([]string{}, r.keys...) }

// AddReport attaches sub under its own name, replacing an earlier sub
// report of the same name.
func (r *Report) AddReport(sub *Report) {
	if _, ok := r.subs[sub.name]; !ok {
		r.order = append(r.order, sub.name)
	}
	r.subs[sub.name] = sub
}

// SubReport returns the attached sub report called name.
func (r *Report) SubReport(name string) (*Report, bool) {
	s, ok := r.subs[name]
	return s, ok
}

// SubReports returns the attached sub reports in attachment order.
func (r *Report) SubReports() []*Report {
	out := make([]*Report, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.subs[n])
	}
	return out
}

// Success marks the reporter's own outcome as passed and clears the
// reason.
func (r *Report) Success() {
	r.status = StatusPassed
	r.reason = ""
}

// Failed marks the reporter's own outcome as failed.
func (r *Report) Failed(reason string) {
	r.status = StatusFailed
	r.reason = reason
}

// Error marks the reporter's own outcome as errored. An errored test
// could not run at all, as opposed to one that ran and failed.
func (r *Report) Error(reason string) {
	r.status = StatusError
	r.reason = reason
}

// Status returns the severest outcome of the report and its subs.
func (r *Report) Status() Status {
	worst := r.status
	for _, s := range r.subs {
		worst = severer(worst, s.Status())
	}
	return worst
}

// Reason returns the reason of the severest outcome, searching the sub
// reports when the report itself passed.
func (r *Report) Reason() string {
	if r.status != StatusPassed {
		return r.reason
	}
	worst := StatusPassed
	reason := ""
	names := append([]string{}, r.order...)
	sort.Strings(names)
	for _, n := range names {
		s := r.subs[n]
		if st := s.Status(); severer(worst, st) != worst {
			worst = st
			reason = s.Reason()
		}
	}
	return reason
}

func severer(a, b Status) Status {
	rank := map[Status]int{StatusPassed: 0, StatusFailed: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ToMap flattens the report tree into plain maps for serialization.
func (r *Report) ToMap() map[string]any {
	m := map[string]any{
		"name":   r.name,
		"status": string(r.Status()),
		"reason": r.Reason(),
	}
	for _, k := range r.keys {
		m[k] = r.entries[k]
	}
	subNames := make([]any, 0, len(r.order))
	for _, n := range r.order {
		subNames = append(subNames, n)
		m[n] = r.subs[n].ToMap()
	}
	m["sub_reports"] = subNames
	return m
}

// FromMap rebuilds a report tree flattened by ToMap.
func FromMap(m map[string]any) (*Report, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("report map has no name")
	}
	r := New(name)
	switch Status(fmt.Sprint(m["status"])) {
	case StatusFailed:
		r.Failed(fmt.Sprint(m["reason"]))
	case StatusError:
		r.Error(fmt.Sprint(m["reason"]))
	case StatusPassed:
	default:
		return nil, fmt.Errorf("report %q: unknown status %v", name, m["status"])
	}
	subNames := map[string]bool{}
	if subs, ok := m["sub_reports"].([]any); ok {
		for _, n := range subs {
			subNames[fmt.Sprint(n)] = true
		}
	}
	for k, v := range m {
		switch k {
		case "name", "status", "reason", "sub_reports":
			continue
		}
		if subNames[k] {
			subMap, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("report %q: sub report %q is not a map", name, k)
			}
			sub, err := FromMap(subMap)
			if err != nil {
				return nil, err
			}
			r.AddReport(sub)
			continue
		}
		r.Add(k, v)
	}
	return r, nil
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Report) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
