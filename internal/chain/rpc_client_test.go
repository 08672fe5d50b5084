package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"token-ledger/internal/domain"
)

func testCommand(t *testing.T) *domain.Command {
	t.Helper()
	cmd, err := domain.NewPublishCommand("cmd-1", &domain.PublishCommand{
		TokenID: 7, OwnerID: 3, Name: "ABC1", TotalSupply: 1000, IntentEventID: 12,
	})
	if err != nil {
		t.Fatalf("NewPublishCommand: %v", err)
	}
	cmd.Attempts = 1
	return cmd
}

func writeResult(w http.ResponseWriter, id uint64, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func TestHTTPClient_SubmitConfirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64         `json:"id"`
			Method string         `json:"method"`
			Params []submitParams `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != submitMethod {
			t.Errorf("expected method %s, got %s", submitMethod, req.Method)
		}
		if len(req.Params) != 1 || req.Params[0].CommandID != "cmd-1" || req.Params[0].Attempt != 1 {
			t.Errorf("unexpected params: %+v", req.Params)
		}

		writeResult(w, req.ID, map[string]any{
			"accepted":         true,
			"status":           "CONFIRMED",
			"issued_tokens":    1000,
			"contract_address": "0xabc",
			"tx_hash":          "0xdef",
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	outcome, err := client.Submit(context.Background(), testCommand(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome == nil {
		t.Fatal("expected outcome, got nil")
	}
	if outcome.Status != domain.CommandConfirmed || outcome.IssuedTokens != 1000 || outcome.ContractAddress != "0xabc" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if outcome.CommandID != "cmd-1" {
		t.Errorf("expected command id cmd-1, got %s", outcome.CommandID)
	}
}

func TestHTTPClient_SubmitAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeResult(w, req.ID, map[string]any{"accepted": true})
	}))
	defer server.Close()

	outcome, err := NewHTTPClient(server.URL).Submit(context.Background(), testCommand(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no outcome for accepted command, got %+v", outcome)
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]any{
				"code":    -32602,
				"message": "Invalid params",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(0))
	_, err := client.Submit(context.Background(), testCommand(t))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeResult(w, req.ID, map[string]any{"accepted": true, "status": "FAILED", "reason": "reverted"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	outcome, err := client.Submit(context.Background(), testCommand(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if outcome == nil || outcome.Status != domain.CommandFailed || outcome.Reason != "reverted" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	if _, err := client.Submit(context.Background(), testCommand(t)); err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(5),
		WithRetryDelay(1*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, testCommand(t))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
