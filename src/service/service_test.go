package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/node"
	"github.com/mosaicnetworks/ledgerd/src/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*node.Node, *httptest.Server, *archive.StoreSource) {
	conf := node.TestConfig(t)
	s := store.NewInmemStore()
	m := metrics.NewMetrics()

	n, err := node.NewNode(conf, s, nil, m)
	require.NoError(t, err)
	n.RunAsync()
	t.Cleanup(n.Shutdown)

	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	source := archive.NewStoreSource(s, key)

	service := NewService("", n, source, m, common.NewTestEntry(t, "service"))
	server := httptest.NewServer(service.Handler())
	t.Cleanup(server.Close)

	return n, server, source
}

func get(t *testing.T, url string) (int, []byte) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func post(t *testing.T, url string, body []byte) (int, []byte) {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// submit closes ledger 2 through the API.
func submit(t *testing.T, n *node.Node, server *httptest.Server) {
	lcl := n.Status().LCL
	v, err := ledger.NewValue(lcl.Seq()+1, lcl.Hash, nil, 10)
	require.NoError(t, err)
	data, err := v.Marshal()
	require.NoError(t, err)

	code, _ := post(t, server.URL+"/finalized", data)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		return n.Status().LCL.Seq() == lcl.Seq()+1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestServiceLedgerQueries(t *testing.T) {
	n, server, _ := newTestService(t)
	submit(t, n, server)

	code, body := get(t, server.URL+"/header/2")
	require.Equal(t, http.StatusOK, code)
	var header ledger.HeaderEntry
	require.NoError(t, json.Unmarshal(body, &header))
	assert.Equal(t, n.Status().LCL.Hex(), header.Hex())

	code, _ = get(t, server.URL+"/header/99")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, server.URL+"/header/abc")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, server.URL+"/results/2")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, server.URL+"/value/2")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, server.URL+"/account/root")
	require.Equal(t, http.StatusOK, code)
	var account ledger.Account
	require.NoError(t, json.Unmarshal(body, &account))
	assert.Equal(t, "root", account.ID)
	code, _ = get(t, server.URL+"/account/nobody")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, server.URL+"/stats")
	require.Equal(t, http.StatusOK, code)
	stats := map[string]string{}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, "2", stats["last_closed_ledger"])

	code, body = get(t, server.URL+"/status")
	require.Equal(t, http.StatusOK, code)
	var status node.Status
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "Running", status.State)

	code, body = get(t, server.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "ledgerd_last_closed_ledger 2")
}

func TestServiceBufferedValue(t *testing.T) {
	n, server, _ := newTestService(t)

	v, err := ledger.NewValue(4, []byte("unknown"), nil, 20)
	require.NoError(t, err)
	data, err := v.Marshal()
	require.NoError(t, err)
	code, _ := post(t, server.URL+"/finalized", data)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		return len(n.Status().Catchup.Buffered) == 1
	}, 5*time.Second, 5*time.Millisecond)

	code, body := get(t, server.URL+"/buffered/4")
	require.Equal(t, http.StatusOK, code)
	var buffered ledger.Value
	require.NoError(t, json.Unmarshal(body, &buffered))
	assert.Equal(t, uint32(4), buffered.Seq)
	assert.Equal(t, v.TxSetHash, buffered.TxSetHash)

	code, _ = get(t, server.URL+"/buffered/3")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, server.URL+"/value/4")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServiceFinalizedRejectsGarbage(t *testing.T) {
	_, server, _ := newTestService(t)

	code, _ := post(t, server.URL+"/finalized", []byte("not a value"))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, server.URL+"/finalized")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServiceCatchupControl(t *testing.T) {
	_, server, _ := newTestService(t)

	code, _ := get(t, server.URL+"/catchup")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, _ = post(t, server.URL+"/catchup/abort", nil)
	assert.Equal(t, http.StatusConflict, code)

	req, _ := json.Marshal(CatchupRequest{To: 1})
	code, _ = post(t, server.URL+"/catchup", req)
	assert.Equal(t, http.StatusBadRequest, code)

	req, _ = json.Marshal(CatchupRequest{To: 5, Verify: "sideways"})
	code, _ = post(t, server.URL+"/catchup", req)
	assert.Equal(t, http.StatusBadRequest, code)

	// Without an archive the catchup starts blocked and can be aborted.
	req, _ = json.Marshal(CatchupRequest{To: 5, Hash: "0XAB"})
	code, body := post(t, server.URL+"/catchup", req)
	require.Equal(t, http.StatusOK, code)
	var status node.CatchupStatus
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.Blocked)
	require.NotNil(t, status.Target)
	assert.Equal(t, uint32(5), status.Target.To)

	code, body = post(t, server.URL+"/catchup/abort", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.CatchingUp)
}

func TestServiceCheckpoint(t *testing.T) {
	n, server, _ := newTestService(t)
	submit(t, n, server)

	code, _ := get(t, server.URL+archive.CheckpointPath+"?from=2&to=9&state=true")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = get(t, server.URL+archive.CheckpointPath+"?from=x")
	assert.Equal(t, http.StatusBadRequest, code)

	source := archive.NewHTTPSource(server.URL, time.Second)
	cp, err := source.Checkpoint(context.Background(), archive.Request{From: 2, To: 2, State: true})
	require.NoError(t, err)
	assert.Equal(t, n.Status().LCL.Hex(), cp.Header.Hex())
	require.Len(t, cp.Headers, 1)
	assert.NotEmpty(t, cp.Accounts)
}
