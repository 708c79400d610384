package conduit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client provides typed bindings for the Conduit methods the ITS adapter
// needs. It is not safe for concurrent use.
type Client struct {
	conn *Connection
	auth Authenticator
}

// NewClient creates a client over conn. A nil auth sends no credentials.
func NewClient(conn *Connection, auth Authenticator) *Client {
	return &Client{conn: conn, auth: auth}
}

// Connection returns the underlying connection.
func (c *Client) Connection() *Connection {
	return c.conn
}

// SetAuthenticator replaces the credentials, discarding any session
// established with the previous ones.
func (c *Client) SetAuthenticator(auth Authenticator) {
	if c.auth != nil {
		c.auth.Reset()
	}
	c.auth = auth
}

// ResetSession drops any cached session so the next call re-authenticates.
func (c *Client) ResetSession() {
	if c.auth != nil {
		c.auth.Reset()
	}
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	var authParams map[string]any
	if c.auth != nil {
		var err error
		authParams, err = c.auth.Params(ctx, c.conn)
		if err != nil {
			return nil, err
		}
	}
	return c.conn.Call(ctx, method, params, authParams)
}

// Ping runs conduit.ping.
func (c *Client) Ping(ctx context.Context) (*Ping, error) {
	raw, err := c.call(ctx, "conduit.ping", map[string]any{})
	if err != nil {
		return nil, err
	}
	var hostname string
	if err := json.Unmarshal(raw, &hostname); err != nil {
		return nil, &ProtocolError{Method: "conduit.ping", Err: fmt.Errorf("parse hostname: %w", err)}
	}
	return &Ping{Hostname: hostname}, nil
}

// ProjectSearch runs project.search and returns the project whose name is
// exactly name. The remote query is fuzzy, so near matches are dropped.
// Returns nil, nil when no project matches exactly.
func (c *Client) ProjectSearch(ctx context.Context, name string) (*Project, error) {
	params := map[string]any{
		"constraints": map[string]any{"query": name},
	}
	raw, err := c.call(ctx, "project.search", params)
	if err != nil {
		return nil, err
	}
	projects, err := decodeSearch[Project](raw)
	if err != nil {
		return nil, &ProtocolError{Method: "project.search", Err: err}
	}
	for i := range projects {
		if projects[i].Fields.Name == name {
			return &projects[i], nil
		}
	}
	return nil, nil
}

// ManiphestSearch runs maniphest.search for one task id, with project
// attachments. Returns nil, nil when the task is not in the result.
func (c *Client) ManiphestSearch(ctx context.Context, taskID int) (*Task, error) {
	params := map[string]any{
		"constraints": map[string]any{"ids": []int{taskID}},
		"attachments": map[string]any{"projects": true},
	}
	raw, err := c.call(ctx, "maniphest.search", params)
	if err != nil {
		return nil, err
	}
	tasks, err := decodeSearch[Task](raw)
	if err != nil {
		return nil, &ProtocolError{Method: "maniphest.search", Err: err}
	}
	for i := range tasks {
		if tasks[i].ID == taskID {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

// ManiphestEdit runs maniphest.edit on a task. A transaction is staged for
// each non-empty argument; project names are resolved to PHIDs first. When
// nothing is staged no call is made and nil, nil is returned.
func (c *Client) ManiphestEdit(ctx context.Context, taskID int, comment, projectToAdd, projectToRemove string) (*EditResult, error) {
	transactions, err := c.stageEdit(ctx, comment, projectToAdd, projectToRemove)
	if err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return nil, nil
	}

	params := map[string]any{
		"objectIdentifier": taskID,
		"transactions":     transactions,
	}
	raw, err := c.call(ctx, "maniphest.edit", params)
	if err != nil {
		return nil, err
	}
	var result EditResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Method: "maniphest.edit", Err: fmt.Errorf("parse edit result: %w", err)}
	}
	return &result, nil
}

func (c *Client) stageEdit(ctx context.Context, comment, projectToAdd, projectToRemove string) ([]Transaction, error) {
	var transactions []Transaction
	if comment != "" {
		transactions = append(transactions, Transaction{Type: TransactionComment, Value: comment})
	}
	if projectToAdd != "" {
		phid, err := c.projectPHID(ctx, projectToAdd)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, Transaction{Type: TransactionProjectsAdd, Value: []string{phid}})
	}
	if projectToRemove != "" {
		phid, err := c.projectPHID(ctx, projectToRemove)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, Transaction{Type: TransactionProjectsRemove, Value: []string{phid}})
	}
	return transactions, nil
}

func (c *Client) projectPHID(ctx context.Context, name string) (string, error) {
	project, err := c.ProjectSearch(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve project %q: %w", name, err)
	}
	if project == nil {
		return "", &InvalidProjectError{Name: name}
	}
	return project.PHID, nil
}
