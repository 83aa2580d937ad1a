package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestSimulatedClaimCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sim := NewSimulated(4 * time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	left, err := sim.GetCooldown(ctx, "0xabc")
	require.NoError(t, err)
	assert.Zero(t, left)

	receipt, err := sim.SubmitClaim(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.NotEmpty(t, receipt.TxRef)

	now = now.Add(time.Hour)
	left, err = sim.GetCooldown(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, left)

	now = now.Add(3 * time.Hour)
	left, err = sim.GetCooldown(ctx, "0xabc")
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestSimulatedInjectedOutcomes(t *testing.T) {
	sim := NewSimulated(time.Hour)
	ctx := context.Background()

	sim.RejectWith("out of gas")
	receipt, err := sim.SubmitTransfer(ctx, "0xabc", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "out of gas", receipt.Reason)

	// 未成功的领取不产生冷却
	_, err = sim.SubmitClaim(ctx, "0xabc")
	require.NoError(t, err)
	left, err := sim.GetCooldown(ctx, "0xabc")
	require.NoError(t, err)
	assert.Zero(t, left)

	sim.RejectWith("")
	boom := errors.New("rpc down")
	sim.FailWith(boom)
	_, err = sim.SubmitTransfer(ctx, "0xabc", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, boom)

	sim.FailWith(nil)
	sim.SetDelay(time.Second)
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = sim.SubmitTransfer(timeoutCtx, "0xabc", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedReferencesAreUnique(t *testing.T) {
	sim := NewSimulated(time.Hour)
	a, err := sim.SubmitTransfer(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.NoError(t, err)
	b, err := sim.SubmitTransfer(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, a.TxRef, b.TxRef)
}

func TestRelayClientTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfers", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xabc", req["to"])
		assert.Equal(t, "12.5", req["amount"])

		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "txHash": "0xdeadbeef"})
	}))
	defer server.Close()

	client := NewRelayClient(server.URL+"/", server.Client())
	receipt, err := client.SubmitTransfer(context.Background(), "0xabc", decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	assert.Equal(t, Receipt{TxRef: "0xdeadbeef", Success: true}, receipt)
}

func TestRelayClientClaimAndCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/claims":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "txHash": "0x1", "error": "reverted"})
		case "/cooldowns/0xabc":
			_ = json.NewEncoder(w).Encode(map[string]any{"secondsRemaining": 90})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, server.Client())
	receipt, err := client.SubmitClaim(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "reverted", receipt.Reason)

	left, err := client.GetCooldown(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, left)
}

func TestRelayClientClampsHugeCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"secondsRemaining": int64(1) << 62})
	}))
	defer server.Close()

	left, err := NewRelayClient(server.URL, server.Client()).GetCooldown(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Positive(t, left)
	assert.Equal(t, time.Duration(maxCooldownSeconds)*time.Second, left)
}

func TestRelayClientErrors(t *testing.T) {
	client := NewRelayClient("http://relay.test", &http.Client{
		Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial error")
		}),
	})
	_, err := client.SubmitClaim(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrUnavailable)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "node syncing"})
	}))
	defer server.Close()

	client = NewRelayClient(server.URL, server.Client())
	_, err = client.SubmitTransfer(context.Background(), "0xabc", decimal.NewFromInt(1))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "node syncing", apiErr.Message)
}
