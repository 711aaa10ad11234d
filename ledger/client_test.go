package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	testToken   = "0x1100000000000000000000000000000000000011"
	testAccount = "0xAB00000000000000000000000000000000000012"
)

func TestEncodeBalanceOf(t *testing.T) {
	got, err := encodeBalanceOf(testAccount, 3)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := "0x00fdd58e" +
		"000000000000000000000000ab00000000000000000000000000000000000012" +
		"0000000000000000000000000000000000000000000000000000000000000003"
	if got != want {
		t.Errorf("calldata mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestEncodeBalanceOfRejectsBadAddress(t *testing.T) {
	if _, err := encodeBalanceOf("not-an-address", 1); err == nil {
		t.Error("expected error for malformed address")
	}
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0x0", 0},
		{"0x", 0},
		{"0x2a", 42},
		{"0x0000000000000000000000000000000000000000000000000de0b6b3a7640000", 1000000000000000000},
	}
	for _, c := range cases {
		v, err := parseQuantity(c.in)
		if err != nil {
			t.Fatalf("parseQuantity(%q): %v", c.in, err)
		}
		if v.Int64() != c.want {
			t.Errorf("parseQuantity(%q) = %s, want %d", c.in, v, c.want)
		}
	}
	if _, err := parseQuantity("0xzz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestBalanceQueriesContract(t *testing.T) {
	var gotCall struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotCall); err != nil {
			t.Errorf("malformed rpc request: %v", err)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x64"}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, testToken)
	v, err := c.Balance(context.Background(), testAccount, 2)
	if err != nil {
		t.Fatalf("balance query failed: %v", err)
	}
	if v.Int64() != 100 {
		t.Errorf("expected balance 100, got %s", v)
	}
	if gotCall.Method != "eth_call" {
		t.Errorf("expected eth_call, got %q", gotCall.Method)
	}
	call, ok := gotCall.Params[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected params shape: %v", gotCall.Params)
	}
	if call["to"] != testToken {
		t.Errorf("call targeted %v, want %s", call["to"], testToken)
	}
}

func TestBalanceSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, testToken)
	if _, err := c.Balance(context.Background(), testAccount, 1); err == nil {
		t.Error("expected error from rpc error response")
	}
}
