package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/steveyegge/itsbridge/internal/conduit"
)

// PhabricatorTask is the server-side state of one Maniphest task.
type PhabricatorTask struct {
	ID       int
	PHID     string
	Title    string
	Status   string
	Projects []string // project PHIDs
	Comments []string
}

// PhabricatorMockServer is a stateful fake Conduit endpoint.
type PhabricatorMockServer struct {
	*MockTrackerServer

	stateMu     sync.Mutex
	hostname    string
	token       string
	tasks       map[int]*PhabricatorTask
	projects    map[string]string // name -> PHID
	sessions    map[string]bool
	strictTasks bool
	connects    int
	nextXact    int
}

// NewPhabricatorMockServer creates a fake Phabricator with no tasks.
func NewPhabricatorMockServer() *PhabricatorMockServer {
	m := &PhabricatorMockServer{
		MockTrackerServer: NewMockTrackerServer(),
		hostname:          "phabricator.example.com",
		tasks:             make(map[int]*PhabricatorTask),
		projects:          make(map[string]string),
		sessions:          make(map[string]bool),
	}
	m.SetDefaultHandler(m.handleConduitRequest)
	return m
}

// SetToken makes the server accept only the given API token (or a session
// key obtained through conduit.connect). Empty accepts any caller.
func (m *PhabricatorMockServer) SetToken(token string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.token = token
}

// SetStrictTaskLookup makes maniphest.search fail with ERR_BAD_TASK for
// unknown ids, as some Phabricator versions do.
func (m *PhabricatorMockServer) SetStrictTaskLookup(enabled bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.strictTasks = enabled
}

// AddTask creates a task.
func (m *PhabricatorMockServer) AddTask(id int, title string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.tasks[id] = &PhabricatorTask{
		ID:     id,
		PHID:   fmt.Sprintf("PHID-TASK-%d", id),
		Title:  title,
		Status: "open",
	}
}

// AddProject creates a project and returns its PHID.
func (m *PhabricatorMockServer) AddProject(name string) string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	phid := "PHID-PROJ-" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
	m.projects[name] = phid
	return phid
}

// Task returns a copy of a task's state, or nil.
func (m *PhabricatorMockServer) Task(id int) *PhabricatorTask {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	cp := *task
	cp.Projects = append([]string(nil), task.Projects...)
	cp.Comments = append([]string(nil), task.Comments...)
	return &cp
}

// Connects returns how many conduit.connect handshakes were made.
func (m *PhabricatorMockServer) Connects() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.connects
}

// Methods returns the Conduit methods called, in order.
func (m *PhabricatorMockServer) Methods() []string {
	var methods []string
	for _, req := range m.GetRequests() {
		methods = append(methods, strings.TrimPrefix(req.Path, "/api/"))
	}
	return methods
}

func (m *PhabricatorMockServer) handleConduitRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/api/") {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"error": "Not found"})
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/api/")

	form, err := url.ParseQuery(string(body))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(form.Get("params")), &params); err != nil {
		writeConduitError(w, "ERR-CONDUIT-CORE", "params is not a JSON object")
		return
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if method != "conduit.connect" && !m.authorized(params) {
		writeConduitError(w, "ERR-INVALID-AUTH", "API token is invalid.")
		return
	}

	switch method {
	case "conduit.ping":
		writeConduitResult(w, m.hostname)
	case "conduit.connect":
		m.connects++
		key := fmt.Sprintf("session-%d", m.connects)
		m.sessions[key] = true
		writeConduitResult(w, map[string]any{"sessionKey": key, "connectionID": m.connects})
	case "project.search":
		m.handleProjectSearch(w, params)
	case "maniphest.search":
		m.handleManiphestSearch(w, params)
	case "maniphest.edit":
		m.handleManiphestEdit(w, params)
	default:
		writeConduitError(w, "ERR-CONDUIT-CALL", fmt.Sprintf("Conduit method %q does not exist.", method))
	}
}

func (m *PhabricatorMockServer) authorized(params map[string]any) bool {
	if m.token == "" {
		return true
	}
	auth, _ := params["__conduit__"].(map[string]any)
	if auth == nil {
		return false
	}
	if token, _ := auth["token"].(string); token == m.token {
		return true
	}
	key, _ := auth["sessionKey"].(string)
	return m.sessions[key]
}

func (m *PhabricatorMockServer) handleProjectSearch(w http.ResponseWriter, params map[string]any) {
	constraints, _ := params["constraints"].(map[string]any)
	query, _ := constraints["query"].(string)

	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		if strings.Contains(strings.ToLower(name), strings.ToLower(query)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	data := make([]any, 0, len(names))
	for i, name := range names {
		data = append(data, map[string]any{
			"id":   i + 1,
			"type": "PROJ",
			"phid": m.projects[name],
			"fields": map[string]any{
				"name": name,
				"slug": strings.ToLower(name),
			},
		})
	}
	writeConduitResult(w, map[string]any{"data": data, "cursor": map[string]any{"after": nil}})
}

func (m *PhabricatorMockServer) handleManiphestSearch(w http.ResponseWriter, params map[string]any) {
	constraints, _ := params["constraints"].(map[string]any)
	ids, _ := constraints["ids"].([]any)

	data := []any{}
	for _, raw := range ids {
		id := int(raw.(float64))
		task, ok := m.tasks[id]
		if !ok {
			if m.strictTasks {
				writeConduitError(w, conduit.ErrCodeBadTask, fmt.Sprintf("No such Maniphest task %d.", id))
				return
			}
			continue
		}
		data = append(data, map[string]any{
			"id":   task.ID,
			"type": "TASK",
			"phid": task.PHID,
			"fields": map[string]any{
				"name":   task.Title,
				"status": map[string]any{"value": task.Status, "name": strings.ToUpper(task.Status[:1]) + task.Status[1:]},
			},
			"attachments": map[string]any{
				"projects": map[string]any{"projectPHIDs": append([]string{}, task.Projects...)},
			},
		})
	}
	writeConduitResult(w, map[string]any{"data": data, "cursor": map[string]any{"after": nil}})
}

func (m *PhabricatorMockServer) handleManiphestEdit(w http.ResponseWriter, params map[string]any) {
	raw, _ := params["objectIdentifier"].(float64)
	task, ok := m.tasks[int(raw)]
	if !ok {
		writeConduitError(w, conduit.ErrCodeBadTask, fmt.Sprintf("No such Maniphest task %v.", params["objectIdentifier"]))
		return
	}

	txs, _ := params["transactions"].([]any)
	applied := make([]any, 0, len(txs))
	for _, rawTx := range txs {
		tx, _ := rawTx.(map[string]any)
		switch tx["type"] {
		case conduit.TransactionComment:
			task.Comments = append(task.Comments, tx["value"].(string))
		case conduit.TransactionProjectsAdd:
			for _, phid := range tx["value"].([]any) {
				task.Projects = appendUnique(task.Projects, phid.(string))
			}
		case conduit.TransactionProjectsRemove:
			for _, phid := range tx["value"].([]any) {
				task.Projects = removeString(task.Projects, phid.(string))
			}
		default:
			writeConduitError(w, "ERR-CONDUIT-CORE", fmt.Sprintf("Transaction type %q is unknown.", tx["type"]))
			return
		}
		m.nextXact++
		applied = append(applied, map[string]any{"phid": fmt.Sprintf("PHID-XACT-TASK-%d", m.nextXact)})
	}
	writeConduitResult(w, map[string]any{
		"object":       map[string]any{"id": task.ID, "phid": task.PHID},
		"transactions": applied,
	})
}

func writeConduitResult(w http.ResponseWriter, result any) {
	writeJSON(w, map[string]any{"result": result, "error_code": nil, "error_info": nil})
}

func writeConduitError(w http.ResponseWriter, code, info string) {
	writeJSON(w, map[string]any{"result": nil, "error_code": code, "error_info": info})
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
