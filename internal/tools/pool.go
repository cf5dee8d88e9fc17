package tools

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

// LocalTool is a tool served in-process rather than by a remote server.
type LocalTool interface {
	Def() llm.ToolDef
	Call(ctx context.Context, args map[string]any) (string, error)
}

type route struct {
	serverID string
	toolName string
}

// Pool holds the tool clients of one completion request. It is built per
// request and torn down when the request finishes; clients are never reused
// across requests so headers and credentials cannot leak between users.
type Pool struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[string]Client
	defs    []llm.ToolDef
	routes  map[string]route
	locals  map[string]LocalTool
}

// Open connects to every configured server and fetches its tool list. Tool
// names are namespaced {serverID}_{toolName} so servers cannot collide.
// A server that fails to connect or list is logged and skipped; Open never
// fails as a whole.
func Open(ctx context.Context, configs []types.ToolServerConfig, locals []LocalTool, log *logger.Logger) *Pool {
	p := &Pool{
		log:     log.With("component", "ToolPool"),
		clients: map[string]Client{},
		routes:  map[string]route{},
		locals:  map[string]LocalTool{},
	}
	for _, lt := range locals {
		def := lt.Def()
		p.locals[def.Name] = lt
		p.defs = append(p.defs, def)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			client, err := connect(gctx, cfg)
			if err != nil {
				p.log.Warn("tool server connect failed, skipping", "server_id", cfg.ID, "error", err)
				return nil
			}
			defs, err := client.ListTools(gctx)
			if err != nil {
				p.log.Warn("tool list fetch failed, skipping server", "server_id", cfg.ID, "error", err)
				if cerr := client.Close(); cerr != nil {
					p.log.Warn("tool client close failed", "server_id", cfg.ID, "error", cerr)
				}
				return nil
			}

			p.mu.Lock()
			defer p.mu.Unlock()
			p.clients[cfg.ID] = client
			for _, d := range defs {
				namespaced := cfg.ID + "_" + d.Name
				p.routes[namespaced] = route{serverID: cfg.ID, toolName: d.Name}
				p.defs = append(p.defs, llm.ToolDef{
					Name:        namespaced,
					Description: d.Description,
					Parameters:  NormalizeSchema(d.InputSchema),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return p
}

func connect(ctx context.Context, cfg types.ToolServerConfig) (Client, error) {
	switch cfg.Transport {
	case types.TransportSSE:
		return newSSEClient(ctx, cfg.URL, cfg.Headers)
	case types.TransportHTTP, "":
		return newHTTPClient(cfg.URL, cfg.Headers), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Tools returns every assembled tool definition, normalized and namespaced.
func (p *Pool) Tools() []llm.ToolDef {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.ToolDef, len(p.defs))
	copy(out, p.defs)
	return out
}

// Call executes a namespaced tool.
func (p *Pool) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.Lock()
	local, isLocal := p.locals[name]
	rt, hasRoute := p.routes[name]
	var client Client
	if hasRoute {
		client = p.clients[rt.serverID]
	}
	p.mu.Unlock()

	if isLocal {
		return local.Call(ctx, args)
	}
	if !hasRoute || client == nil {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return client.CallTool(ctx, rt.toolName, args)
}

// CloseAll closes every opened client. Close failures are logged, never
// returned.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = map[string]Client{}
	p.mu.Unlock()

	for id, c := range clients {
		if err := c.Close(); err != nil {
			p.log.Warn("tool client close failed", "server_id", id, "error", err)
		}
	}
}
