package bugzilla

import (
	"fmt"
	"strings"
)

// field describes a bug field that actions may change.
type field struct {
	// update is the Bug.update parameter name.
	update string
	// legal is the Bug.fields name whose values constrain it.
	legal string
}

// fields lists the action names PerformAction accepts.
var fields = map[string]field{
	"status":     {update: "status", legal: "bug_status"},
	"resolution": {update: "resolution", legal: "resolution"},
}

// Change sets one field to one value.
type Change struct {
	Field string
	Value string
}

// Transition is an immutable, ordered list of field changes committed by a
// single Bug.update call.
type Transition struct {
	action  string
	value   string
	changes []Change
}

// ParseTransition stages the changes described by action and value. Both may
// be slash-delimited chains ("status/resolution", "RESOLVED/FIXED") of equal
// length. Field names are case-insensitive.
func ParseTransition(action, value string) (Transition, error) {
	names := strings.Split(action, "/")
	values := strings.Split(value, "/")
	if len(names) != len(values) {
		return Transition{}, &InvalidTransitionError{
			Action: action,
			Value:  value,
			Reason: fmt.Sprintf("%d fields but %d values", len(names), len(values)),
		}
	}

	changes := make([]Change, 0, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		v := strings.TrimSpace(values[i])
		if _, ok := fields[name]; !ok {
			return Transition{}, &InvalidTransitionError{Action: action, Value: value, Reason: fmt.Sprintf("unknown field %q", name)}
		}
		if v == "" {
			return Transition{}, &InvalidTransitionError{Action: action, Value: value, Reason: fmt.Sprintf("empty value for %s", name)}
		}
		if seen[name] {
			return Transition{}, &InvalidTransitionError{Action: action, Value: value, Reason: fmt.Sprintf("field %s given twice", name)}
		}
		seen[name] = true
		changes = append(changes, Change{Field: name, Value: v})
	}
	return Transition{action: action, value: value, changes: changes}, nil
}

// Changes returns a copy of the staged changes, in order.
func (t Transition) Changes() []Change {
	return append([]Change(nil), t.changes...)
}

// Len returns the number of staged changes.
func (t Transition) Len() int {
	return len(t.changes)
}

// String renders the transition as "field=value" pairs.
func (t Transition) String() string {
	parts := make([]string, len(t.changes))
	for i, c := range t.changes {
		parts[i] = c.Field + "=" + c.Value
	}
	return strings.Join(parts, ", ")
}

// updateParams builds the Bug.update parameters for bug id.
func (t Transition) updateParams(id int) map[string]any {
	params := map[string]any{"ids": []int{id}}
	for _, c := range t.changes {
		params[fields[c.Field].update] = c.Value
	}
	return params
}
