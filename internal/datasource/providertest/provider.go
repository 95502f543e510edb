// Package providertest serves a fake financial data provider that speaks the
// same JSON-RPC + login protocol as the real one. It backs the datasource and
// snapshot tests and the fimock development binary.
package providertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/artha/internal/datasource"
)

type failure struct {
	status    int
	remaining int // <0 means always
}

// Provider is an in-memory provider keyed by phone number.
type Provider struct {
	mu        sync.Mutex
	fixtures  map[string]map[string]json.RawMessage
	sessions  map[string]string
	calls     map[string]int
	probes    int
	logins    int
	failures  map[string]*failure
	delays    map[string]time.Duration
	rejectAll bool
	noLogin   bool
}

func New() *Provider {
	return &Provider{
		fixtures: make(map[string]map[string]json.RawMessage),
		sessions: make(map[string]string),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		delays:   make(map[string]time.Duration),
	}
}

// WithDefaultUser registers phone with DefaultFixtures.
func (p *Provider) WithDefaultUser(phone string) *Provider {
	for tool, payload := range DefaultFixtures() {
		p.SetFixture(phone, tool, payload)
	}
	return p
}

// SetFixture stores the payload returned for tool once phone is logged in.
func (p *Provider) SetFixture(phone, tool string, payload any) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(fmt.Sprintf("providertest: marshal fixture %s: %v", tool, err))
		}
		raw = b
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fixtures[phone] == nil {
		p.fixtures[phone] = make(map[string]json.RawMessage)
	}
	p.fixtures[phone][tool] = raw
}

// FailTool makes tool answer with status. times < 0 fails forever,
// otherwise the tool recovers after that many failures.
func (p *Provider) FailTool(tool string, status, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if times == 0 {
		delete(p.failures, tool)
		return
	}
	p.failures[tool] = &failure{status: status, remaining: times}
}

// DelayTool sleeps before answering tool calls, honouring request cancellation.
func (p *Provider) DelayTool(tool string, d time.Duration) {
	p.mu.Lock()
	p.delays[tool] = d
	p.mu.Unlock()
}

// RejectLogins makes every /login answer 401.
func (p *Provider) RejectLogins(v bool) {
	p.mu.Lock()
	p.rejectAll = v
	p.mu.Unlock()
}

// SkipLoginRequired makes the probe answer with data instead of login_required.
func (p *Provider) SkipLoginRequired(v bool) {
	p.mu.Lock()
	p.noLogin = v
	p.mu.Unlock()
}

// Calls reports authenticated calls made to tool, failures included.
func (p *Provider) Calls(tool string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[tool]
}

// TotalCalls reports every authenticated tool call.
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// Logins reports successful logins.
func (p *Provider) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/stream", p.handleStream)
	mux.HandleFunc("/login", p.handleLogin)
	return mux
}

func (p *Provider) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	sessionID := r.PostForm.Get("sessionId")
	phone := r.PostForm.Get("phoneNumber")

	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.fixtures[phone]
	if p.rejectAll || !known || sessionID == "" {
		http.Error(w, "login rejected", http.StatusUnauthorized)
		return
	}
	p.sessions[sessionID] = phone
	p.logins++
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

func (p *Provider) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req datasource.RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	sessionID := r.Header.Get(datasource.SessionHeader)
	tool := req.Params.Name

	p.mu.Lock()
	phone, loggedIn := p.sessions[sessionID]
	if !loggedIn {
		p.probes++
		noLogin := p.noLogin
		p.mu.Unlock()
		if noLogin {
			writeText(w, req.ID, `{"netWorthResponse":{}}`)
			return
		}
		writeText(w, req.ID, fmt.Sprintf(`{"status":%q,"login_url":"/mockWebPage?sessionId=%s","message":"Needs to login first"}`, datasource.StatusLoginRequired, sessionID))
		return
	}
	p.calls[tool]++
	delay := p.delays[tool]
	var failStatus int
	if f, ok := p.failures[tool]; ok {
		failStatus = f.status
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(p.failures, tool)
			}
		}
	}
	payload, found := p.fixtures[phone][tool]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failStatus != 0 {
		http.Error(w, "injected failure", failStatus)
		return
	}
	if !found {
		writeRPCError(w, req.ID, -32602, "unknown tool: "+tool)
		return
	}
	writeText(w, req.ID, string(payload))
}

func writeText(w http.ResponseWriter, id any, text string) {
	resp := datasource.RPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  &datasource.RPCResult{Content: []datasource.RPCContent{{Type: "text", Text: text}}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id any, code int, msg string) {
	resp := datasource.RPCResponse{JSONRPC: "2.0", ID: id, Error: &datasource.RPCError{Code: code, Message: msg}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// LoadDir reads fixtures laid out as <dir>/<phone>/<tool>.json.
func LoadDir(dir string) (*Provider, error) {
	p := New()
	users, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, u.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, u.Name(), f.Name()))
			if err != nil {
				return nil, err
			}
			if !json.Valid(b) {
				return nil, fmt.Errorf("fixture %s/%s is not valid JSON", u.Name(), f.Name())
			}
			p.SetFixture(u.Name(), strings.TrimSuffix(f.Name(), ".json"), json.RawMessage(b))
		}
	}
	return p, nil
}
