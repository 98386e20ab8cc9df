// Package main implements a mock LLM server for local runs of the daily plan
// service. It serves OpenAI-compatible /v1/chat/completions responses from
// JSON fixture files, routing by the "model" field in the request.
//
// Usage:
//
//	mock-llm --fixtures /path/to/fixtures --port 11434
//
// Fixture files are JSON named by model (e.g., "gpt-4o-mini.json" maps to
// model "gpt-4o-mini"). The file content is returned as the assistant message.
// A "default.json" fixture answers any model without its own file. Without a
// fixture directory a built-in plan is served for every model.
//
// Sequential fixtures: numbered files ("gpt-4o.1.json", "gpt-4o.2.json") are
// returned in order, then the base file repeats. A fixture whose body is a
// fault object makes that call fail instead:
//
//	{"mock_status": 429, "retry_after": 30, "message": "slow down"}
//
// This drives the service through rate limits, outages and recovery.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// fault makes a call fail with an HTTP status instead of a completion.
type fault struct {
	Status     int    `json:"mock_status"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Message    string `json:"message,omitempty"`
}

// fixture is one canned answer.
type fixture struct {
	content string
	fault   *fault
}

func parseFixture(data []byte) fixture {
	var f fault
	if err := json.Unmarshal(data, &f); err == nil && f.Status != 0 {
		return fixture{fault: &f}
	}
	return fixture{content: string(data)}
}

// defaultModel answers models without their own fixtures.
const defaultModel = "default"

// builtinPlan is served when no fixture directory is given.
const builtinPlan = `{
  "summary": "A balanced day with a lunchtime walk and an early night.",
  "items": [
    {"time": "07:30", "category": "meal", "title": "Greek yogurt with berries", "description": "Protein and fibre to start the day."},
    {"time": "10:00", "category": "hydration", "title": "Water break", "description": "Two glasses of water."},
    {"time": "12:30", "category": "meal", "title": "Chicken and quinoa bowl"},
    {"time": "13:15", "category": "activity", "title": "20 minute walk"},
    {"time": "16:00", "category": "hydration", "title": "Herbal tea"},
    {"time": "19:00", "category": "meal", "title": "Baked salmon with greens"},
    {"time": "22:30", "category": "sleep", "title": "Lights out"}
  ]
}`

// --- Server ---

// capturedRequest stores the key fields of an incoming request for inspection.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-model call number
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]fixture // model name → ordered fixtures
	calls    atomic.Int64
	logger   *slog.Logger

	modelCalls   map[string]*atomic.Int64
	modelCallsMu sync.Mutex

	modelRequests   map[string][]capturedRequest
	modelRequestsMu sync.Mutex
}

func newServer(fixtures map[string][]fixture, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:      fixtures,
		logger:        logger,
		modelCalls:    make(map[string]*atomic.Int64),
		modelRequests: make(map[string][]capturedRequest),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) captureRequest(model string, req chatRequest, callIndex int) {
	s.modelRequestsMu.Lock()
	defer s.modelRequestsMu.Unlock()
	s.modelRequests[model] = append(s.modelRequests[model], capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *server) modelCounter(model string) *atomic.Int64 {
	s.modelCallsMu.Lock()
	defer s.modelCallsMu.Unlock()
	if c, ok := s.modelCalls[model]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.modelCalls[model] = c
	return c
}

// resolve finds the fixture sequence for model: exact name, then without a
// "mock-" prefix, then the default.
func (s *server) resolve(model string) ([]fixture, bool) {
	for _, name := range []string{model, strings.TrimPrefix(model, "mock-"), defaultModel} {
		if seq, ok := s.fixtures[name]; ok {
			return seq, true
		}
	}
	return nil, false
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		fixtureDir string
		port       int
	)
	cmd := &cobra.Command{
		Use:          "mock-llm",
		Short:        "Serve canned chat completions for local daily plan runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && fixtureDir == "" {
				fixtureDir = envDir
			}

			fixtures := map[string][]fixture{defaultModel: {{content: builtinPlan}}}
			if fixtureDir != "" {
				loaded, err := loadFixtures(fixtureDir)
				if err != nil {
					return fmt.Errorf("load fixtures from %s: %w", fixtureDir, err)
				}
				fixtures = loaded
			}
			for model, seq := range fixtures {
				logger.Info("Fixture loaded", "model", model, "count", len(seq))
			}

			s := newServer(fixtures, logger)
			addr := fmt.Sprintf(":%d", port)
			logger.Info("Mock LLM server listening", "addr", addr)
			srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "Directory containing fixture response files")
	cmd.Flags().IntVar(&port, "port", 11434, "Port to listen on")
	return cmd
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	seq, ok := s.resolve(req.Model)
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	callIndex := int(s.modelCounter(req.Model).Add(1) - 1)
	s.captureRequest(req.Model, req, callIndex+1)
	fx := seq[min(callIndex, len(seq)-1)]

	if fx.fault != nil {
		s.logger.Info("Injecting fault", "call", callNum, "model", req.Model, "status", fx.fault.Status)
		if fx.fault.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(fx.fault.RetryAfter))
		}
		msg := fx.fault.Message
		if msg == "" {
			msg = http.StatusText(fx.fault.Status)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fx.fault.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": msg}})
		return
	}

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: fx.content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(fx.content) / 4,
			CompletionTokens: len(fx.content) / 4,
			TotalTokens:      len(fx.content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	s.logger.Info("Completion served", "call", callNum, "model", req.Model, "call_index", callIndex+1, "bytes", len(fx.content))
}

// handleModels lists the fixture models.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": models})
}

// handleStats returns total_calls and a per-model calls_by_model breakdown.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, counter := range s.modelCalls {
		callsByModel[model] = counter.Load()
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// handleRequests returns captured requests, optionally filtered by the
// model and call (1-indexed) query parameters.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callIdx, callErr := strconv.Atoi(r.URL.Query().Get("call"))

	s.modelRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.modelRequests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callErr == nil && req.CallIndex != callIdx {
				continue
			}
			result[model] = append(result[model], req)
		}
	}
	s.modelRequestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests_by_model": result})
}

// numberedFileRe matches files like "gpt-4o.1.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir. For each model the numbered files
// come first in numeric order, then the base file.
func loadFixtures(dir string) (map[string][]fixture, error) {
	baseFiles := make(map[string]fixture)
	numberedFiles := make(map[string]map[int]fixture)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}
		fx := parseFixture(data)

		if m := numberedFileRe.FindStringSubmatch(d.Name()); m != nil {
			index, _ := strconv.Atoi(m[2])
			if numberedFiles[m[1]] == nil {
				numberedFiles[m[1]] = make(map[int]fixture)
			}
			numberedFiles[m[1]][index] = fx
			return nil
		}
		baseFiles[strings.TrimSuffix(d.Name(), ".json")] = fx
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]fixture)
	for model, numbered := range numberedFiles {
		indices := make([]int, 0, len(numbered))
		for idx := range numbered {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], numbered[idx])
		}
	}
	for model, base := range baseFiles {
		fixtures[model] = append(fixtures[model], base)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
