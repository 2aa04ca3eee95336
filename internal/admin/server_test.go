package admin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coderunner/execd/internal/adminauth"
	"github.com/coderunner/execd/internal/adminlog"
	"github.com/coderunner/execd/internal/telemetry"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func testServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	recorder := telemetry.New()
	logs := adminlog.NewRing(100)
	s := New(recorder, nil, logs, nil, nil, nil)
	srv := httptest.NewServer(s.Handler(hashOf("topsecret")))
	return srv, "topsecret"
}

func authedGet(t *testing.T, srv *httptest.Server, credential, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set(adminauth.CredentialHeader, credential)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestStatsRequiresCredential(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatsReturnsSnapshot(t *testing.T) {
	srv, cred := testServer(t)
	defer srv.Close()
	resp := authedGet(t, srv, cred, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap telemetry.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
}

func TestResetIsIdempotent(t *testing.T) {
	srv, cred := testServer(t)
	defer srv.Close()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/reset", nil)
	require.NoError(t, err)
	req.Header.Set(adminauth.CredentialHeader, cred)

	resp1, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp1.StatusCode)

	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/reset", nil)
	req2.Header.Set(adminauth.CredentialHeader, cred)
	resp2, err := srv.Client().Do(req2)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
}

func TestReportsMissingDateIsBadRequest(t *testing.T) {
	srv, cred := testServer(t)
	defer srv.Close()
	resp := authedGet(t, srv, cred, "/reports")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportsUnknownDateIsNotFound(t *testing.T) {
	srv, cred := testServer(t)
	defer srv.Close()
	resp := authedGet(t, srv, cred, "/reports?date=2020-01-01")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsServesPrometheusExposition(t *testing.T) {
	srv, cred := testServer(t)
	defer srv.Close()
	resp := authedGet(t, srv, cred, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogsReturnsEmptyListWhenRingIsEmpty(t *testing.T) {
	recorder := telemetry.New()
	logs := adminlog.NewRing(100)
	s := New(recorder, nil, logs, nil, nil, nil)
	srv := httptest.NewServer(s.Handler(hashOf("topsecret")))
	defer srv.Close()

	logs.Query(adminlog.Filter{}) // sanity: ring is usable before any entries exist

	resp := authedGet(t, srv, "topsecret", "/logs?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []adminlog.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Empty(t, entries)
}
