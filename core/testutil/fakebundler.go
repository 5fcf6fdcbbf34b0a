package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"

type BundlerError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BundlerHandler answers one JSON-RPC method. Returning a non-nil error
// object sends it instead of the result.
type BundlerHandler func(params []json.RawMessage) (interface{}, *BundlerError)

// FakeBundler is an httptest JSON-RPC server that plays a bundler.
type FakeBundler struct {
	mu       sync.Mutex
	handlers map[string]BundlerHandler
	calls    map[string]int
	params   map[string][]json.RawMessage
	server   *httptest.Server
}

func NewFakeBundler(t testing.TB) *FakeBundler {
	b := &FakeBundler{
		handlers: map[string]BundlerHandler{},
		calls:    map[string]int{},
		params:   map[string][]json.RawMessage{},
	}
	b.Handle("eth_chainId", func([]json.RawMessage) (interface{}, *BundlerError) {
		return fmt.Sprintf("0x%x", MonadTestnetChainID), nil
	})
	b.Handle("eth_supportedEntryPoints", func([]json.RawMessage) (interface{}, *BundlerError) {
		return []string{EntryPointV07}, nil
	})
	b.Handle("eth_getUserOperationReceipt", func([]json.RawMessage) (interface{}, *BundlerError) {
		return nil, nil
	})

	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *FakeBundler) URL() string {
	return b.server.URL
}

func (b *FakeBundler) Handle(method string, h BundlerHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = h
}

// Calls returns how often method was called.
func (b *FakeBundler) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// LastParams returns the params of the latest call to method.
func (b *FakeBundler) LastParams(method string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params[method]
}

func (b *FakeBundler) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.calls[req.Method]++
	b.params[req.Method] = req.Params
	h, ok := b.handlers[req.Method]
	b.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = BundlerError{Code: -32601, Message: "method " + req.Method + " not found"}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
