// Package horizon implements a minimal client for discovering the current
// chain tip from a Horizon-like HTTP endpoint. It is used only to resolve
// the ingestion controller's starting ledger on a cold start with no
// configured start_ledger and an empty store.
package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultURL is the public Horizon root used when no override is configured.
const DefaultURL = "https://horizon.stellar.org"

// Client issues plain HTTP GETs against a Horizon-like root to discover the
// latest closed ledger sequence. No cloud-SDK or RPC dependency — a single
// request against the same kind of shared, keep-alive *http.Client the
// archive client uses.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL (a Horizon server's root, no
// trailing slash required).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ledgersPage is the subset of Horizon's /ledgers list response this client
// reads: the most recent record's sequence.
type ledgersPage struct {
	Embedded struct {
		Records []struct {
			Sequence uint32 `json:"sequence"`
		} `json:"records"`
	} `json:"_embedded"`
}

// LatestLedger returns the sequence of the most recently closed ledger, via
// GET {baseURL}/ledgers?order=desc&limit=1. It matches the ledgerHeadFunc
// signature the ingestion controller calls — with its own retry/backoff —
// to resolve the starting ledger when neither a configured start_ledger nor
// a prior latest_ingested is available.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ledgers?order=desc&limit=1", nil)
	if err != nil {
		return 0, fmt.Errorf("build ledger-head request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query ledger head: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ledger head endpoint returned status %d", resp.StatusCode)
	}

	var page ledgersPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return 0, fmt.Errorf("decode ledger head response: %w", err)
	}
	if len(page.Embedded.Records) == 0 {
		return 0, fmt.Errorf("ledger head response had no records")
	}
	return page.Embedded.Records[0].Sequence, nil
}
