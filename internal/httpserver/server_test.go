package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep60/nexus-security/internal/auth"
	"github.com/deep60/nexus-security/internal/custody"
	"github.com/deep60/nexus-security/internal/engine"
	"github.com/deep60/nexus-security/internal/httpserver"
	"github.com/deep60/nexus-security/internal/models"
	"github.com/deep60/nexus-security/internal/store"
)

type testEnv struct {
	server *httptest.Server
	bank   *custody.MemoryBank
}

func newTestEnv(t *testing.T, verifier *auth.Verifier) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	bank := custody.NewMemoryBank()
	eng := engine.New(engine.Config{}, st, bank, nil, nil)
	srv := httptest.NewServer(httpserver.New(eng, st, verifier).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, bank: bank}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createBountyBody(creator string) map[string]interface{} {
	return map[string]interface{}{
		"creator":      creator,
		"artifactRef":  "sha256:deadbeef",
		"description":  "suspicious dropper sample",
		"rewardAmount": 100,
		"minStake":     10,
		"deadline":     time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestCreateAndGetBounty(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bank.Deposit("creator", 100)

	resp := env.postJSON(t, "/bounties", createBountyBody("creator"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b models.Bounty
	decode(t, resp, &b)
	assert.Equal(t, models.BountyStatusActive, b.Status)

	getResp, err := http.Get(env.server.URL + "/bounties/" + b.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var got models.Bounty
	decode(t, getResp, &got)
	assert.Equal(t, b.ID, got.ID)
}

func TestCreateBountyValidationError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bank.Deposit("creator", 100)

	body := createBountyBody("creator")
	body["rewardAmount"] = 0
	resp := env.postJSON(t, "/bounties", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody map[string]string
	decode(t, resp, &errBody)
	assert.Equal(t, "amount_not_positive", errBody["code"])
}

func TestGetBountyNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/bounties/6a6f8f9e-1111-2222-3333-444455556666")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/bounties/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSubmitAndResolveFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bank.Deposit("creator", 100)

	resp := env.postJSON(t, "/bounties", createBountyBody("creator"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b models.Bounty
	decode(t, resp, &b)

	for _, p := range []string{"alice", "bob", "carol"} {
		env.bank.Deposit(p, 20)
		subResp := env.postJSON(t, fmt.Sprintf("/bounties/%s/submissions", b.ID), map[string]interface{}{
			"participant": p,
			"verdict":     "malicious",
			"confidence":  100,
			"stake":       20,
		}, nil)
		require.Equal(t, http.StatusCreated, subResp.StatusCode)
		subResp.Body.Close()
	}

	// Duplicate submission maps to 409.
	env.bank.Deposit("alice", 20)
	dupResp := env.postJSON(t, fmt.Sprintf("/bounties/%s/submissions", b.ID), map[string]interface{}{
		"participant": "alice",
		"verdict":     "benign",
		"confidence":  50,
		"stake":       20,
	}, nil)
	assert.Equal(t, http.StatusConflict, dupResp.StatusCode)
	dupResp.Body.Close()

	resolveResp := env.postJSON(t, fmt.Sprintf("/bounties/%s/resolve", b.ID), nil, nil)
	require.Equal(t, http.StatusOK, resolveResp.StatusCode)
	var report models.SettlementReport
	decode(t, resolveResp, &report)
	assert.Equal(t, models.OutcomeConsensus, report.Outcome)
	assert.Len(t, report.Winners, 3)

	// Second resolve conflicts.
	again := env.postJSON(t, fmt.Sprintf("/bounties/%s/resolve", b.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, again.StatusCode)
	again.Body.Close()

	// Submission and reputation are readable afterwards.
	subResp, err := http.Get(env.server.URL + fmt.Sprintf("/bounties/%s/submissions/alice", b.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, subResp.StatusCode)
	var sub models.Submission
	decode(t, subResp, &sub)
	assert.True(t, sub.Rewarded)

	repResp, err := http.Get(env.server.URL + "/participants/alice/reputation")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, repResp.StatusCode)
	var rec models.ReputationRecord
	decode(t, repResp, &rec)
	assert.Equal(t, int64(150), rec.Score)
}

func TestAuthRequired(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	env := newTestEnv(t, verifier)
	env.bank.Deposit("creator", 100)

	// No token.
	resp := env.postJSON(t, "/bounties", createBountyBody("creator"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Token for a different subject.
	otherToken, err := verifier.Sign("mallory")
	require.NoError(t, err)
	resp = env.postJSON(t, "/bounties", createBountyBody("creator"), map[string]string{
		"Authorization": "Bearer " + otherToken,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Matching subject.
	token, err := verifier.Sign("creator")
	require.NoError(t, err)
	resp = env.postJSON(t, "/bounties", createBountyBody("creator"), map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}
