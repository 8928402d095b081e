package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmstdio/pkg/types"
)

type staticService struct{ report types.StatusReport }

func (s staticService) Snapshot() types.StatusReport { return s.report }

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticService{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusSnapshot(t *testing.T) {
	svc := staticService{report: types.StatusReport{
		State:           "processing",
		HistoryCount:    4,
		SystemPromptSet: true,
		Counters:        types.Counters{PromptLen: 9, GenSeqLen: 3, AllSeqLen: 12},
	}}
	srv := httptest.NewServer(NewRouter(svc))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got types.StatusReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, svc.report, got)
}

func TestMetricsExposed(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticService{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
