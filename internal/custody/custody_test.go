package custody_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep60/nexus-security/internal/custody"
)

func TestMemoryBankTransfers(t *testing.T) {
	ctx := context.Background()
	bank := custody.NewMemoryBank()
	bank.Deposit("alice", 100)

	require.NoError(t, bank.TransferIn(ctx, "alice", 60))
	assert.Equal(t, int64(40), bank.Balance("alice"))
	assert.Equal(t, int64(60), bank.Escrowed())

	require.NoError(t, bank.TransferOut(ctx, "bob", 25))
	assert.Equal(t, int64(25), bank.Balance("bob"))
	assert.Equal(t, int64(35), bank.Escrowed())
}

func TestMemoryBankInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	bank := custody.NewMemoryBank()
	bank.Deposit("alice", 10)

	err := bank.TransferIn(ctx, "alice", 20)
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)
	assert.Equal(t, int64(10), bank.Balance("alice"))
	assert.Zero(t, bank.Escrowed())
}

func TestMemoryBankEscrowUnderflow(t *testing.T) {
	ctx := context.Background()
	bank := custody.NewMemoryBank()

	err := bank.TransferOut(ctx, "bob", 5)
	assert.ErrorIs(t, err, custody.ErrEscrowUnderflow)
}

func TestMemoryBankRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	bank := custody.NewMemoryBank()
	bank.Deposit("alice", 10)

	assert.Error(t, bank.TransferIn(ctx, "alice", 0))
	assert.Error(t, bank.TransferIn(ctx, "alice", -1))
	assert.Error(t, bank.TransferOut(ctx, "alice", 0))
}

func TestHTTPClientTransfer(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := custody.NewHTTPClient(custody.HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, client.TransferIn(context.Background(), "alice", 10))
	assert.Equal(t, "/custody/escrow/in", gotPath)

	require.NoError(t, client.TransferOut(context.Background(), "bob", 5))
	assert.Equal(t, "/custody/escrow/out", gotPath)
}

func TestHTTPClientInsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client, err := custody.NewHTTPClient(custody.HTTPClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	err = client.TransferIn(context.Background(), "alice", 10)
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)
}
