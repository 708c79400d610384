package tracker

import (
	"strconv"
	"strings"
)

// Action is a parsed "<verb> <value>" request. Value keeps everything after
// the first run of whitespace so that project names with spaces survive.
type Action struct {
	Verb  string
	Value string
}

// ParseAction splits an action string into its verb and value.
// The verb is lower-cased. A missing verb or value is an InvalidActionError.
func ParseAction(s string) (Action, error) {
	trimmed := strings.TrimSpace(s)
	idx := strings.IndexFunc(trimmed, isSpace)
	if idx <= 0 {
		return Action{}, &InvalidActionError{Action: s, Reason: "expected \"<verb> <value>\""}
	}
	value := strings.TrimSpace(trimmed[idx:])
	if value == "" {
		return Action{}, &InvalidActionError{Action: s, Reason: "missing value"}
	}
	return Action{
		Verb:  strings.ToLower(trimmed[:idx]),
		Value: value,
	}, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// ParseIssueID converts the string id used at the facade boundary into the
// tracker's numeric id.
func ParseIssueID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{Input: s, Err: err}
	}
	return id, nil
}
