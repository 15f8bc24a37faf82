package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransfer_Success(t *testing.T) {
	var gotPath string
	var gotBody transferRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(transferResponse{Success: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	err := c.Transfer(context.Background(), "0xtoken", "0xledger", "0xrecipient", 50)
	if err != nil {
		t.Fatalf("Transfer error: %v", err)
	}

	if gotPath != "/api/tokens/0xtoken/transfer" {
		t.Fatalf("path = %q, want /api/tokens/0xtoken/transfer", gotPath)
	}
	if gotBody.From != "0xledger" || gotBody.To != "0xrecipient" || gotBody.Amount != 50 {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestTransfer_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transferResponse{Success: false, Error: "insufficient allowance"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	err := c.TransferFrom(context.Background(), "0xtoken", "0xfrom", "0xledger", 50)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestTransfer_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	err := c.Transfer(context.Background(), "0xtoken", "0xledger", "0xrecipient", 50)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestBalanceOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tokens/0xtoken/balance/0xledger" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(balanceResponse{Balance: 1000})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	balance, err := c.BalanceOf(context.Background(), "0xtoken", "0xledger")
	if err != nil {
		t.Fatalf("BalanceOf error: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("balance = %d, want 1000", balance)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("")

	if err := c.Transfer(context.Background(), "0xtoken", "a", "b", 1); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
	if _, err := c.BalanceOf(context.Background(), "0xtoken", "a"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
