package throttle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ranking-agent/trapi-throttle/internal/trapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry(http.DefaultClient, nil)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	info := KPInfo{URL: "http://example.test", RequestQty: 1, RequestDuration: time.Second}
	require.NoError(t, r.Register("kp1", info))

	err := r.Register("kp1", info)
	var dup DuplicateError
	assert.ErrorAs(t, err, &dup)
}

func TestRegistryQueryUnknownKP(t *testing.T) {
	t.Parallel()

	r := NewRegistry(http.DefaultClient, nil)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	_, err := r.Query(context.Background(), "missing", trapi.Query{})
	var unknown UnknownKPError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistryUnregisterStopsEngineAndCancelsInFlightRequest(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block // never respond until the test releases it
	}))
	defer ts.Close()
	defer close(block)

	r := NewRegistry(http.DefaultClient, nil)
	require.NoError(t, r.Register("kp1", KPInfo{URL: ts.URL, RequestQty: 1, RequestDuration: time.Second}))

	errs := make(chan error, 1)
	go func() {
		_, err := r.Query(context.Background(), "kp1", queryPinning("CHEBI:1"))
		errs <- err
	}()

	// Give the worker a moment to pick up the request before we tear it down.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, r.Unregister("kp1"))

	err := <-errs
	var cancelled CancelledError
	assert.ErrorAs(t, err, &cancelled)

	err = r.Unregister("kp1")
	var unknown UnknownKPError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistryKPIDs(t *testing.T) {
	t.Parallel()

	r := NewRegistry(http.DefaultClient, nil)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	require.NoError(t, r.Register("kp1", KPInfo{URL: "http://a.test", RequestQty: 1, RequestDuration: time.Second}))
	require.NoError(t, r.Register("kp2", KPInfo{URL: "http://b.test", RequestQty: 1, RequestDuration: time.Second}))

	assert.ElementsMatch(t, []string{"kp1", "kp2"}, r.KPIDs())
}
