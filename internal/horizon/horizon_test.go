package horizon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatestLedgerParsesHorizonResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ledgers", r.URL.Path)
		require.Equal(t, "desc", r.URL.Query().Get("order"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"_embedded":{"records":[{"sequence":52345678}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	seq, err := c.LatestLedger(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(52345678), seq)
}

func TestLatestLedgerEmptyRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_embedded":{"records":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.LatestLedger(context.Background())
	require.Error(t, err)
}

func TestLatestLedgerNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.LatestLedger(context.Background())
	require.Error(t, err)
}
