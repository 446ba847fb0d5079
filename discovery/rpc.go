package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// AnonymousSession is the rpcd session id granted before login.
const AnonymousSession = "00000000000000000000000000000000"

// RPCLister lists directories through the rpcd `file.list` ubus method.
type RPCLister struct {
	URL     string
	Session string
	Client  *http.Client

	nextID atomic.Uint64
}

// NewRPCLister creates a lister for the given rpcd JSON-RPC endpoint
// (usually http://<router>/ubus).
func NewRPCLister(url, session string, timeout time.Duration) *RPCLister {
	if session == "" {
		session = AnonymousSession
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCLister{URL: url, Session: session, Client: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64            `json:"id"`
	Result []json.RawMessage `json:"result"`
	Error  *rpcError         `json:"error"`
}

type listResult struct {
	Entries []Entry `json:"entries"`
}

// List calls file.list for path.
func (l *RPCLister) List(ctx context.Context, path string) ([]Entry, error) {
	if l.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      l.nextID.Add(1),
		Method:  "call",
		Params:  []any{l.Session, "file", "list", map[string]string{"path": path}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode file.list request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build file.list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call file.list %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call file.list %s: http status %d", path, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode file.list response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("file.list %s: rpc error %d: %s", path, decoded.Error.Code, decoded.Error.Message)
	}
	if len(decoded.Result) == 0 {
		return nil, fmt.Errorf("file.list %s: empty result", path)
	}
	var status int
	if err := json.Unmarshal(decoded.Result[0], &status); err != nil {
		return nil, fmt.Errorf("decode file.list status: %w", err)
	}
	if status != 0 {
		return nil, fmt.Errorf("file.list %s: ubus status %d", path, status)
	}
	if len(decoded.Result) < 2 {
		return nil, nil
	}
	var result listResult
	if err := json.Unmarshal(decoded.Result[1], &result); err != nil {
		return nil, fmt.Errorf("decode file.list entries: %w", err)
	}
	return result.Entries, nil
}
