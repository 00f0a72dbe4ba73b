package api

import (
	"encoding/json"
	"net/http"

	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
)

// eventResponse is the wire shape of one event in a list/get response.
type eventResponse struct {
	Object   string          `json:"object"`
	ID       string          `json:"id"`
	Ledger   uint32          `json:"ledger"`
	At       string          `json:"at"`
	Tx       string          `json:"tx"`
	Type     string          `json:"type"`
	Contract string          `json:"contract,omitempty"`
	Topics   []decoder.Value `json:"topics"`
	Data     decoder.Value   `json:"data"`
}

func toEventResponse(e decoder.ExtractedEvent) eventResponse {
	return eventResponse{
		Object:   "event",
		ID:       cursor.Encode(e.Tuple),
		Ledger:   e.Tuple.Ledger,
		At:       e.ClosedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Tx:       e.TxHash,
		Type:     string(e.EventType),
		Contract: e.ContractID,
		Topics:   e.Topics,
		Data:     e.Data,
	}
}

// listResponse is the response envelope for GET/POST /events. Next is
// populated whenever HasMore is true: the full URL (path + query) that
// continues the page in the same direction this request was already
// paging in.
type listResponse struct {
	Object  string          `json:"object"`
	URL     string          `json:"url"`
	HasMore bool            `json:"has_more"`
	Next    string          `json:"next,omitempty"`
	Data    []eventResponse `json:"data"`
}

// buildNextURL reconstructs the request path with its cursor parameter
// replaced by next, under the query key that continues in the same
// direction the request was already paging in, so repeating the request
// with this URL fetches the page immediately following the one returned.
func buildNextURL(r *http.Request, next *cursor.Tuple, dir string) string {
	if next == nil {
		return ""
	}
	q := r.URL.Query()
	q.Del("after")
	q.Del("start_after")
	q.Del("before")
	q.Set(dir, cursor.Encode(*next))
	u := *r.URL
	u.RawQuery = q.Encode()
	return u.Path + "?" + u.RawQuery
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// healthResponse reports the ingestion sync state for GET /health (and its
// /v1/status alias).
type healthResponse struct {
	Status            string  `json:"status"`
	LatestIngested    *uint32 `json:"latest_ingested"`
	PartitionsCached  int     `json:"partitions_cached"`
	PartitionsExpired uint64  `json:"partitions_expired"`
}
