package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// sseClient keeps a persistent event stream open and POSTs JSON-RPC
// requests to the endpoint the server announces; responses come back over
// the stream and are matched to callers by request id.
type sseClient struct {
	headers map[string]string
	client  *http.Client

	cancel context.CancelFunc
	body   io.Closer
	done   chan struct{}

	mu      sync.Mutex
	postURL string
	pending map[int64]chan jsonRPCResponse

	endpointReady chan struct{}
	readyOnce     sync.Once
}

func newSSEClient(ctx context.Context, endpoint string, headers map[string]string) (*sseClient, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpc := &http.Client{}
	resp, err := httpc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	c := &sseClient{
		headers:       headers,
		client:        &http.Client{Timeout: 30 * time.Second},
		cancel:        cancel,
		body:          resp.Body,
		done:          make(chan struct{}),
		pending:       map[int64]chan jsonRPCResponse{},
		endpointReady: make(chan struct{}),
	}
	go c.readLoop(resp.Body, endpoint)

	select {
	case <-c.endpointReady:
	case <-time.After(10 * time.Second):
		c.Close()
		return nil, errors.New("tool server never announced its endpoint")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

func (c *sseClient) readLoop(body io.Reader, base string) {
	defer close(c.done)
	br := bufio.NewReader(body)
	var event, data string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			c.failPending(fmt.Errorf("event stream closed: %w", err))
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			c.dispatch(event, data, base)
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func (c *sseClient) dispatch(event, data, base string) {
	switch event {
	case "endpoint":
		u := data
		if ref, err := url.Parse(data); err == nil {
			if b, err := url.Parse(base); err == nil {
				u = b.ResolveReference(ref).String()
			}
		}
		c.mu.Lock()
		c.postURL = u
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.endpointReady) })
	case "message", "":
		if data == "" {
			return
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *sseClient) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[int64]chan jsonRPCResponse{}
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- jsonRPCResponse{ID: id, Error: &jsonRPCError{Code: -1, Message: err.Error()}}
	}
}

func (c *sseClient) rpc(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRPCID()
	ch := make(chan jsonRPCResponse, 1)
	c.mu.Lock()
	postURL := c.postURL
	c.pending[id] = ch
	c.mu.Unlock()

	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("tool server request: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	select {
	case rpcResp := <-ch:
		if rpcResp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		return rpcResp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *sseClient) ListTools(ctx context.Context) ([]toolDef, error) {
	raw, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []toolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

func (c *sseClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.rpc(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	return parseToolResult(raw)
}

func (c *sseClient) Close() error {
	c.cancel()
	err := c.body.Close()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return err
}
