// Package archive fetches compressed ledger-close metadata objects from the
// public Stellar history archive over plain HTTPS, with no cloud-SDK
// dependency — only the shared *http.Client's connection pool amortizes
// cold-fetch latency.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kind classifies a fetch error so the ingestion controller knows whether to
// retry.
type Kind int

const (
	// KindNotFound means the ledger has not been published to the archive yet.
	KindNotFound Kind = iota
	// KindTransient means the fetch may succeed on retry (timeout, 5xx, conn error).
	KindTransient
	// KindFatal means the fetch will never succeed (bad base URL, non-404 4xx).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a fetch failure with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("archive: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// LedgersPerPartition is the default number of consecutive ledgers grouped
// under one archive object, matching the "commonly 64 per object" note in
// the archive's checkpoint scheme.
const LedgersPerPartition = 64

// Client issues plain HTTP GETs against a base-URL-prefixed ledger archive.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client with a shared keep-alive connection pool. A
// single instance should be reused across all fetches — the pool is the
// primary cold-start cost amortizer.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PartitionStart returns the first ledger sequence of the partition that
// contains seq.
func PartitionStart(seq uint32) uint32 {
	return (seq / LedgersPerPartition) * LedgersPerPartition
}

// ObjectPath builds the archive object key for the partition containing seq:
// a zero-padded hex prefix of the partition's starting sequence, split into
// directory levels, suffixed with the compressed container file name
// (ledgers/xx/yy/zz/<start>-<start>.xdr.zstd, both <start> as 8 hex digits).
func ObjectPath(seq uint32) string {
	start := PartitionStart(seq)
	hex := fmt.Sprintf("%08x", start)
	return fmt.Sprintf("ledgers/%s/%s/%s/%s-%08x.xdr.zstd", hex[0:2], hex[2:4], hex[4:6], hex, start)
}

// Fetch retrieves the raw (still-compressed) bytes of the partition
// containing the given ledger sequence.
func (c *Client) Fetch(ctx context.Context, seq uint32) ([]byte, error) {
	url := c.baseURL + "/" + ObjectPath(seq)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTransient, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Err: fmt.Errorf("ledger %d not published", seq)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("archive returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindFatal, Err: fmt.Errorf("archive returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: err}
	}

	return body, nil
}
