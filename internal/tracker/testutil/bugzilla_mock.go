package testutil

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/kolo/xmlrpc"
)

var methodNameRx = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)

// BugzillaBug is the server-side state of one bug.
type BugzillaBug struct {
	ID         int
	Summary    string
	Status     string
	Resolution string
	Comments   []string
}

// BugzillaMockServer is a stateful fake Bugzilla XML-RPC endpoint.
type BugzillaMockServer struct {
	*MockTrackerServer

	stateMu   sync.Mutex
	version   string
	users     map[string]string // login -> password
	userIDs   map[string]int
	tokens    map[string]string // token -> login
	bugs      map[int]*BugzillaBug
	legal     map[string][]string
	nextToken int
}

// NewBugzillaMockServer creates a fake Bugzilla with the stock workflow.
func NewBugzillaMockServer() *BugzillaMockServer {
	m := &BugzillaMockServer{
		MockTrackerServer: NewMockTrackerServer(),
		version:           "5.0.4",
		users:             make(map[string]string),
		userIDs:           make(map[string]int),
		tokens:            make(map[string]string),
		bugs:              make(map[int]*BugzillaBug),
		legal: map[string][]string{
			"bug_status": {"UNCONFIRMED", "CONFIRMED", "IN_PROGRESS", "RESOLVED", "VERIFIED"},
			"resolution": {"", "FIXED", "INVALID", "WONTFIX", "DUPLICATE", "WORKSFORME"},
		},
	}
	m.SetDefaultHandler(m.handleXMLRPCRequest)
	return m
}

// AddUser registers an account.
func (m *BugzillaMockServer) AddUser(login, password string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.users[login] = password
	m.userIDs[login] = len(m.userIDs) + 1
}

// AddBug creates a bug.
func (m *BugzillaMockServer) AddBug(id int, summary, status string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.bugs[id] = &BugzillaBug{ID: id, Summary: summary, Status: status}
}

// SetLegalValues replaces the legal values of a field.
func (m *BugzillaMockServer) SetLegalValues(field string, values ...string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.legal[field] = values
}

// Bug returns a copy of a bug's state, or nil.
func (m *BugzillaMockServer) Bug(id int) *BugzillaBug {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	bug, ok := m.bugs[id]
	if !ok {
		return nil
	}
	cp := *bug
	cp.Comments = append([]string(nil), bug.Comments...)
	return &cp
}

// ActiveSessions returns the number of tokens not yet logged out.
func (m *BugzillaMockServer) ActiveSessions() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return len(m.tokens)
}

// Methods returns the XML-RPC methods called, in order.
func (m *BugzillaMockServer) Methods() []string {
	var methods []string
	for _, req := range m.GetRequests() {
		if match := methodNameRx.FindSubmatch(req.Body); match != nil {
			methods = append(methods, string(match[1]))
		}
	}
	return methods
}

// CountMethod returns how many times method was called.
func (m *BugzillaMockServer) CountMethod(method string) int {
	n := 0
	for _, called := range m.Methods() {
		if called == method {
			n++
		}
	}
	return n
}

func (m *BugzillaMockServer) handleXMLRPCRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	if r.Method != http.MethodPost || r.URL.Path != "/xmlrpc.cgi" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	match := methodNameRx.FindSubmatch(body)
	if match == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	method := string(match[1])

	params := map[string]any{}
	if bytes.Contains(body, []byte("<params>")) {
		if err := xmlrpc.Response(body).Unmarshal(&params); err != nil {
			writeFault(w, 32000, "Could not parse request: "+err.Error())
			return
		}
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	switch method {
	case "User.login":
		m.handleLogin(w, params)
	case "User.logout":
		token, _ := params["Bugzilla_token"].(string)
		delete(m.tokens, token)
		writeXMLRPCResult(w, map[string]any{})
	case "Bugzilla.version":
		writeXMLRPCResult(w, map[string]any{"version": m.version})
	case "Bug.get":
		m.handleGetBug(w, params)
	case "Bug.fields":
		m.handleFields(w, params)
	case "Bug.add_comment":
		if !m.loggedIn(params) {
			writeFault(w, 410, "You must log in before using this part of Bugzilla.")
			return
		}
		bug := m.lookupBug(w, params["id"])
		if bug == nil {
			return
		}
		bug.Comments = append(bug.Comments, params["comment"].(string))
		writeXMLRPCResult(w, map[string]any{"id": len(bug.Comments)})
	case "Bug.update":
		m.handleUpdate(w, params)
	default:
		writeFault(w, 32601, fmt.Sprintf("The requested method '%s' was not found.", method))
	}
}

func (m *BugzillaMockServer) handleLogin(w http.ResponseWriter, params map[string]any) {
	login, _ := params["login"].(string)
	password, _ := params["password"].(string)
	if want, ok := m.users[login]; !ok || want != password {
		writeFault(w, 300, "The username or password you entered is not valid.")
		return
	}
	m.nextToken++
	token := fmt.Sprintf("%d-token%d", m.userIDs[login], m.nextToken)
	m.tokens[token] = login
	writeXMLRPCResult(w, map[string]any{"id": m.userIDs[login], "token": token})
}

func (m *BugzillaMockServer) loggedIn(params map[string]any) bool {
	token, _ := params["Bugzilla_token"].(string)
	_, ok := m.tokens[token]
	return ok
}

func (m *BugzillaMockServer) lookupBug(w http.ResponseWriter, raw any) *BugzillaBug {
	id, _ := raw.(int64)
	bug, ok := m.bugs[int(id)]
	if !ok {
		writeFault(w, 101, fmt.Sprintf("Bug #%d does not exist.", id))
		return nil
	}
	return bug
}

func (m *BugzillaMockServer) handleGetBug(w http.ResponseWriter, params map[string]any) {
	ids, _ := params["ids"].([]any)
	bugs := make([]any, 0, len(ids))
	for _, raw := range ids {
		bug := m.lookupBug(w, raw)
		if bug == nil {
			return
		}
		bugs = append(bugs, map[string]any{
			"id":         bug.ID,
			"summary":    bug.Summary,
			"status":     bug.Status,
			"resolution": bug.Resolution,
			"is_open":    bug.Resolution == "",
		})
	}
	writeXMLRPCResult(w, map[string]any{"bugs": bugs, "faults": []any{}})
}

func (m *BugzillaMockServer) handleFields(w http.ResponseWriter, params map[string]any) {
	names, _ := params["names"].([]any)
	fields := make([]any, 0, len(names))
	for i, raw := range names {
		name, _ := raw.(string)
		legal, ok := m.legal[name]
		if !ok {
			writeFault(w, 51, fmt.Sprintf("There is no field named '%s'.", name))
			return
		}
		values := make([]any, len(legal))
		for j, v := range legal {
			values[j] = map[string]any{"name": v, "sort_key": j * 100}
		}
		fields = append(fields, map[string]any{"id": i + 1, "name": name, "values": values})
	}
	writeXMLRPCResult(w, map[string]any{"fields": fields})
}

func (m *BugzillaMockServer) handleUpdate(w http.ResponseWriter, params map[string]any) {
	if !m.loggedIn(params) {
		writeFault(w, 410, "You must log in before using this part of Bugzilla.")
		return
	}
	ids, _ := params["ids"].([]any)
	for _, raw := range ids {
		bug := m.lookupBug(w, raw)
		if bug == nil {
			return
		}
		if status, ok := params["status"].(string); ok {
			bug.Status = status
		}
		if resolution, ok := params["resolution"].(string); ok {
			bug.Resolution = resolution
		}
	}
	writeXMLRPCResult(w, map[string]any{"bugs": []any{}})
}

// writeXMLRPCResult writes v as the single value of a methodResponse.
func writeXMLRPCResult(w http.ResponseWriter, v any) {
	call, err := xmlrpc.EncodeMethodCall("response", v)
	if err != nil {
		writeFault(w, 32000, err.Error())
		return
	}
	s := string(call)
	params := s[strings.Index(s, "<params>"):strings.LastIndex(s, "</methodCall>")]
	w.Header().Set("Content-Type", "text/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><methodResponse>%s</methodResponse>`, params)
}

func writeFault(w http.ResponseWriter, code int, message string) {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(message))
	w.Header().Set("Content-Type", "text/xml")
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><methodResponse><fault><value><struct>`+
		`<member><name>faultCode</name><value><int>%d</int></value></member>`+
		`<member><name>faultString</name><value><string>%s</string></value></member>`+
		`</struct></value></fault></methodResponse>`, code, escaped.String())
}
