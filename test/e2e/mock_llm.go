package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maestro-agent/maestro/pkg/llm"
)

// LLMReply is one scripted chat-completions response. Zero Status means a
// 200 with Text as the assistant message; a non-zero Status produces an
// OpenAI-style error body, with Retry-After attached when set.
type LLMReply struct {
	Text       string
	Status     int
	RetryAfter string
	Delay      time.Duration
}

// LLMCall records one request the scripted endpoint served.
type LLMCall struct {
	Persona string
	System  string
	User    string
	At      time.Time
}

// ScriptedLLM is an in-process chat-completions endpoint that replays
// scripted replies. Requests are routed to a persona by matching the system
// prompt against the default prompt catalog, so scripts address personas by
// id rather than by call order.
//
// Per persona, queued replies (Expect) are consumed first; once the queue is
// empty the sticky reply (Always) serves every further call. A call with
// neither fails the test and answers 500 so the workflow aborts visibly.
type ScriptedLLM struct {
	t       *testing.T
	srv     *httptest.Server
	catalog llm.Catalog

	mu     sync.Mutex
	queued map[string][]LLMReply
	sticky map[string]*LLMReply
	calls  []LLMCall
}

// NewScriptedLLM starts the endpoint. It shuts down with the test.
func NewScriptedLLM(t *testing.T) *ScriptedLLM {
	t.Helper()
	s := &ScriptedLLM{
		t:       t,
		catalog: llm.DefaultCatalog(),
		queued:  make(map[string][]LLMReply),
		sticky:  make(map[string]*LLMReply),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the endpoint base URL for LLMConfig.Endpoint.
func (s *ScriptedLLM) URL() string { return s.srv.URL }

// Expect queues replies for one persona, consumed in order.
func (s *ScriptedLLM) Expect(persona string, replies ...LLMReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[persona] = append(s.queued[persona], replies...)
}

// ExpectText queues plain-text replies for one persona.
func (s *ScriptedLLM) ExpectText(persona string, texts ...string) {
	for _, text := range texts {
		s.Expect(persona, LLMReply{Text: text})
	}
}

// Always sets the sticky reply served once the persona's queue is empty.
func (s *ScriptedLLM) Always(persona, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[persona] = &LLMReply{Text: text}
}

// Calls returns the served requests for one persona, in arrival order.
// An empty persona returns every request.
func (s *ScriptedLLM) Calls(persona string) []LLMCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LLMCall, 0, len(s.calls))
	for _, c := range s.calls {
		if persona == "" || c.Persona == persona {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many requests one persona served.
func (s *ScriptedLLM) CallCount(persona string) int {
	return len(s.Calls(persona))
}

// TotalCalls returns how many requests reached the endpoint at all.
func (s *ScriptedLLM) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// chatRequest is the slice of the chat-completions request body the
// endpoint needs: the model and the plain-text messages.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s *ScriptedLLM) handle(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("scripted llm: undecodable request body: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var system, user string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}
	persona := s.route(system)

	reply, ok := s.next(persona, system, user)
	if !ok {
		s.t.Errorf("scripted llm: no reply scripted for persona %q (user message: %.120q)", persona, user)
		writeAPIError(w, http.StatusInternalServerError, "", "no scripted reply for "+persona)
		return
	}

	if reply.Delay > 0 {
		time.Sleep(reply.Delay)
	}
	if reply.Status != 0 {
		writeAPIError(w, reply.Status, reply.RetryAfter, "scripted failure")
		return
	}
	writeCompletion(w, reply.Text)
}

// route resolves the persona from the system prompt. Tool planning appends
// selected extra prompts after its catalog text, so the match is by prefix.
func (s *ScriptedLLM) route(system string) string {
	for id, text := range s.catalog {
		if text != "" && strings.HasPrefix(system, text) {
			return id
		}
	}
	return "unknown"
}

func (s *ScriptedLLM) next(persona, system, user string) (LLMReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, LLMCall{Persona: persona, System: system, User: user, At: time.Now()})

	if queue := s.queued[persona]; len(queue) > 0 {
		reply := queue[0]
		s.queued[persona] = queue[1:]
		return reply, true
	}
	if reply := s.sticky[persona]; reply != nil {
		return *reply, true
	}
	return LLMReply{}, false
}

func writeCompletion(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"id":      "chatcmpl-scripted",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "scripted",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": text},
		}},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
			"total_tokens":      15,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status int, retryAfter, message string) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.WriteHeader(status)
	body := map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf("%s (status %d)", message, status),
			"type":    "scripted_error",
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}
