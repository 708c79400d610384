package conduit

import (
	"encoding/json"
	"fmt"
)

// Ping is the result of conduit.ping.
type Ping struct {
	Hostname string `json:"hostname"`
}

// Project is one record of a project.search result.
//
// JSON looks like:
//
//	{
//	  "id": 8,
//	  "type": "PROJ",
//	  "phid": "PHID-PROJ-ro6wrekgi7u3fwzz5p6a",
//	  "fields": {"name": "Patch-For-Review", "slug": "patch-for-review", ...},
//	  "attachments": {}
//	}
type Project struct {
	ID     int           `json:"id"`
	Type   string        `json:"type"`
	PHID   string        `json:"phid"`
	Fields ProjectFields `json:"fields"`
}

// ProjectFields holds the subset of project fields used here.
type ProjectFields struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Task is one record of a maniphest.search result.
type Task struct {
	ID          int             `json:"id"`
	Type        string          `json:"type"`
	PHID        string          `json:"phid"`
	Fields      TaskFields      `json:"fields"`
	Attachments TaskAttachments `json:"attachments"`
}

// TaskFields holds the subset of task fields used here.
type TaskFields struct {
	Name   string     `json:"name"`
	Status TaskStatus `json:"status"`
}

// TaskStatus is the status object of a task.
type TaskStatus struct {
	Value string `json:"value"`
	Name  string `json:"name"`
}

// TaskAttachments carries the attachments requested by ManiphestSearch.
type TaskAttachments struct {
	Projects struct {
		ProjectPHIDs []string `json:"projectPHIDs"`
	} `json:"projects"`
}

// EditResult is the result of maniphest.edit.
//
// JSON looks like:
//
//	{
//	  "object": {"id": 2, "phid": "PHID-TASK-wzydcwamkp5rjhg45ocq"},
//	  "transactions": [{"phid": "PHID-XACT-TASK-sghfp7saytwmun3"}]
//	}
type EditResult struct {
	Object       EditObject        `json:"object"`
	Transactions []EditTransaction `json:"transactions"`
}

// EditObject identifies the edited object.
type EditObject struct {
	ID   int    `json:"id"`
	PHID string `json:"phid"`
}

// EditTransaction identifies one applied transaction.
type EditTransaction struct {
	PHID string `json:"phid"`
}

// Transaction is one field mutation submitted to an edit call.
type Transaction struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Transaction types understood by maniphest.edit.
const (
	TransactionComment        = "comment"
	TransactionProjectsAdd    = "projects.add"
	TransactionProjectsRemove = "projects.remove"
)

// searchResult is the paged wrapper of *.search methods.
type searchResult struct {
	Data   []json.RawMessage `json:"data"`
	Cursor json.RawMessage   `json:"cursor"`
}

// decodeSearch decodes the data records of a search result.
func decodeSearch[T any](raw json.RawMessage) ([]T, error) {
	var sr searchResult
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("parse search result: %w", err)
	}
	out := make([]T, 0, len(sr.Data))
	for _, item := range sr.Data {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("parse search record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
