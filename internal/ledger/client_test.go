package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chargehive/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return NewClient(srv.URL, "0xservice", kp.PrivateKeyHex, 2*time.Second, 10*time.Millisecond)
}

// eventPayload builds a base64 JSON-CDC payload with the given fields.
func eventPayload(fields string) string {
	raw := fmt.Sprintf(`{"type":"Event","value":{"fields":[%s]}}`, fields)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestTransferSealsAfterPolling(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"id":"tx-1"}`))
	})
	mux.HandleFunc("/v1/transaction_results/tx-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			w.Write([]byte(`{"status":"Pending"}`))
			return
		}
		w.Write([]byte(`{"status":"Sealed","error_message":""}`))
	})

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	client := testClient(t, mux)
	result, err := client.Transfer(context.Background(),
		"0xsender", kp.PrivateKeyHex, "0xreceiver", decimal.RequireFromString("40"))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", result.TransactionID)
	assert.True(t, result.Sealed)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestTransferSurfacesExecutionError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"tx-2"}`))
	})
	mux.HandleFunc("/v1/transaction_results/tx-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"Sealed","error_message":"execution error: Insufficient balance in vault"}`))
	})

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	client := testClient(t, mux)
	_, err = client.Transfer(context.Background(),
		"0xsender", kp.PrivateKeyHex, "0xreceiver", decimal.RequireFromString("1000000"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindChainFailure, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestTransferTimesOutWhenNeverSealed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"tx-3"}`))
	})
	mux.HandleFunc("/v1/transaction_results/tx-3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"Pending"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	client := NewClient(srv.URL, "0xservice", kp.PrivateKeyHex, 50*time.Millisecond, 10*time.Millisecond)
	_, err = client.Transfer(context.Background(),
		"0xsender", kp.PrivateKeyHex, "0xreceiver", decimal.RequireFromString("1"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindChainFailure, apperr.KindOf(err))
}

func TestCreateAccountParsesEvent(t *testing.T) {
	payload := eventPayload(`{"name":"address","value":{"type":"Address","value":"0xabc123"}}`)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"tx-4"}`))
	})
	mux.HandleFunc("/v1/transaction_results/tx-4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"Sealed","error_message":"","events":[{"type":"flow.AccountCreated","transaction_id":"tx-4","payload":%q}]}`, payload)
	})

	client := testClient(t, mux)
	address, err := client.CreateAccount(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", address)
}

func TestGetTransactionHistory(t *testing.T) {
	ours := eventPayload(`{"name":"amount","value":{"type":"UFix64","value":"40.00000000"}},{"name":"from","value":{"type":"Optional","value":{"type":"Address","value":"0xuser"}}}`)
	theirs := eventPayload(`{"name":"amount","value":{"type":"UFix64","value":"5.00000000"}},{"name":"from","value":{"type":"Optional","value":{"type":"Address","value":"0xother"}}}`)
	deposit := eventPayload(`{"name":"amount","value":{"type":"UFix64","value":"12.50000000"}},{"name":"to","value":{"type":"Optional","value":{"type":"Address","value":"0xuser"}}}`)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/blocks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"header":{"height":"1500"}}]`))
	})
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("start_height"), "window is the last 1000 blocks")
		assert.Equal(t, "1500", r.URL.Query().Get("end_height"))

		switch r.URL.Query().Get("type") {
		case eventTokensWithdrawn:
			fmt.Fprintf(w, `[{"block_height":1200,"block_timestamp":"2026-09-01T10:00:00Z","events":[
				{"type":%q,"transaction_id":"tx-a","payload":%q},
				{"type":%q,"transaction_id":"tx-b","payload":%q}]}]`,
				eventTokensWithdrawn, ours, eventTokensWithdrawn, theirs)
		case eventTokensDeposited:
			fmt.Fprintf(w, `[{"block_height":1400,"block_timestamp":"2026-09-01T11:00:00Z","events":[
				{"type":%q,"transaction_id":"tx-c","payload":%q}]}]`,
				eventTokensDeposited, deposit)
		}
	})

	client := testClient(t, mux)
	history, err := client.GetTransactionHistory(context.Background(), "0xuser", 10)
	require.NoError(t, err)
	require.Len(t, history, 2, "events for other addresses are filtered out")

	// Newest block first.
	assert.Equal(t, "received", history[0].Type)
	assert.Equal(t, "tx-c", history[0].TransactionID)
	assert.Equal(t, "12.50000000", history[0].Amount)
	assert.Equal(t, "sent", history[1].Type)
	assert.Equal(t, "40.00000000", history[1].Amount)
}

func TestGetAccountInfoScalesBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":"abc123","balance":"150000000","keys":[{"index":"0"}]}`))
	})

	client := testClient(t, mux)
	info, err := client.GetAccountInfo(context.Background(), "0xabc123")
	require.NoError(t, err)
	assert.Equal(t, "1.5", info.Balance.String())
	assert.Equal(t, "0xabc123", info.Address)
	assert.Equal(t, 1, info.KeyCount)
}

func TestGatewayUnreachable(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	client := NewClient("http://127.0.0.1:1", "0xservice", kp.PrivateKeyHex, time.Second, 10*time.Millisecond)
	_, err = client.Transfer(context.Background(),
		"0xsender", kp.PrivateKeyHex, "0xreceiver", decimal.RequireFromString("1"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindChainFailure, apperr.KindOf(err))
}
