package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectPathIsDeterministicPerPartition(t *testing.T) {
	p1 := ObjectPath(1000)
	p2 := ObjectPath(1001)
	require.Equal(t, p1, p2, "ledgers in the same 64-ledger partition share an object path")

	p3 := ObjectPath(1000 + LedgersPerPartition)
	require.NotEqual(t, p1, p3)
}

func TestPartitionStart(t *testing.T) {
	require.Equal(t, uint32(0), PartitionStart(0))
	require.Equal(t, uint32(0), PartitionStart(63))
	require.Equal(t, uint32(64), PartitionStart(64))
	require.Equal(t, uint32(64), PartitionStart(127))
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), 100)
	require.Error(t, err)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindNotFound, aerr.Kind)
}

func TestFetchTransientOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), 100)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindTransient, aerr.Kind)
}

func TestFetchFatalOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background(), 100)
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, KindFatal, aerr.Kind)
}

func TestFetchSuccess(t *testing.T) {
	want := []byte("compressed-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Fetch(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
