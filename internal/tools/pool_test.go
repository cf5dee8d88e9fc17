package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// fakeToolServer serves the JSON-RPC surface for a single tool that echoes
// its input prefixed with the server's tag.
func fakeToolServer(t *testing.T, tag string, wantHeader string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantHeader != "" && r.Header.Get("X-Api-Key") != wantHeader {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result any
		switch req.Method {
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{{
				"name":        "echo",
				"description": "echoes input",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"text": map[string]any{"type": "string"}},
				},
			}}}
		case "tools/call":
			params := req.Params.(map[string]any)
			args := params["arguments"].(map[string]any)
			result = map[string]any{"content": []map[string]any{{
				"type": "text",
				"text": fmt.Sprintf("%s:%v", tag, args["text"]),
			}}}
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
}

func poolLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestPoolNamespacesAndRoutes(t *testing.T) {
	s1 := fakeToolServer(t, "one", "")
	defer s1.Close()
	s2 := fakeToolServer(t, "two", "secret")
	defer s2.Close()

	configs := []types.ToolServerConfig{
		{ID: "srv1", URL: s1.URL, Transport: types.TransportHTTP},
		{ID: "srv2", URL: s2.URL, Transport: types.TransportHTTP, Headers: map[string]string{"X-Api-Key": "secret"}},
	}
	p := Open(context.Background(), configs, nil, poolLog(t))
	defer p.CloseAll()

	defs := p.Tools()
	if len(defs) != 2 {
		t.Fatalf("want 2 tools, got %+v", defs)
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	if !names["srv1_echo"] || !names["srv2_echo"] {
		t.Fatalf("namespacing wrong: %v", names)
	}

	out, err := p.Call(context.Background(), "srv2_echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "two:hi" {
		t.Fatalf("routed to wrong server: %q", out)
	}
}

func TestPoolServerFailureIsIsolated(t *testing.T) {
	good1 := fakeToolServer(t, "a", "")
	defer good1.Close()
	good2 := fakeToolServer(t, "b", "")
	defer good2.Close()
	dead := httptest.NewServer(nil)
	dead.Close() // connection refused

	configs := []types.ToolServerConfig{
		{ID: "a", URL: good1.URL, Transport: types.TransportHTTP},
		{ID: "dead", URL: dead.URL, Transport: types.TransportHTTP},
		{ID: "b", URL: good2.URL, Transport: types.TransportHTTP},
	}
	p := Open(context.Background(), configs, nil, poolLog(t))
	defer p.CloseAll()

	defs := p.Tools()
	if len(defs) != 2 {
		t.Fatalf("two healthy servers must survive one dead one: %+v", defs)
	}
	if _, err := p.Call(context.Background(), "a_echo", map[string]any{"text": "x"}); err != nil {
		t.Fatalf("healthy server unusable: %v", err)
	}
}

func TestPoolLocalTool(t *testing.T) {
	p := Open(context.Background(), nil, []LocalTool{&staticTool{}}, poolLog(t))
	defer p.CloseAll()

	defs := p.Tools()
	if len(defs) != 1 || defs[0].Name != "clock" {
		t.Fatalf("local tool missing: %+v", defs)
	}
	out, err := p.Call(context.Background(), "clock", nil)
	if err != nil || out != "noon" {
		t.Fatalf("local call: %q, %v", out, err)
	}
}

func TestPoolUnknownTool(t *testing.T) {
	p := Open(context.Background(), nil, nil, poolLog(t))
	defer p.CloseAll()
	_, err := p.Call(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}

type staticTool struct{}

func (staticTool) Def() llm.ToolDef {
	return llm.ToolDef{Name: "clock", Description: "tells the time", Parameters: map[string]any{"type": "object"}}
}

func (staticTool) Call(context.Context, map[string]any) (string, error) { return "noon", nil }
