package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/decoder"
	"github.com/leighmcculloch/stellar-events-api/internal/filter"
	"github.com/leighmcculloch/stellar-events-api/internal/query"
	"github.com/leighmcculloch/stellar-events-api/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// listParams is the normalized form of the GET-query-string / POST-JSON-body
// list parameters, after cursor decoding and query compilation.
type listParams struct {
	Limit     int
	Direction store.Direction
	Cursor    *cursor.Tuple
	Ledger    *uint32
	Tx        *string
	Filters   []filter.EventFilter
}

// jsonListBody is the shape accepted by POST /events.
type jsonListBody struct {
	Limit       *int            `json:"limit"`
	After       *string         `json:"after"`
	StartAfter  *string         `json:"start_after"`
	Before      *string         `json:"before"`
	Ledger      *uint32         `json:"ledger"`
	StartLedger *uint32         `json:"start_ledger"`
	Tx          *string         `json:"tx"`
	Q           json.RawMessage `json:"q"`
	Filters     json.RawMessage `json:"filters"`
}

// legacyFilter is the JSON shape of one element of the legacy "filters"
// array parameter: a direct EventFilter, not a query-language AST node.
type legacyFilter struct {
	EventType  *string          `json:"event_type"`
	ContractID *string          `json:"contract_id"`
	Topics     []*decoder.Value `json:"topics"`
	TopicsAny  []decoder.Value  `json:"topics_any"`
}

// parseListParams normalizes either a GET query string or a POST JSON body
// into a listParams, enforcing the q/filters mutual exclusivity and the
// tx-requires-ledger dependency named by the error taxonomy.
func parseListParams(r *http.Request) (listParams, *apiError) {
	if r.Method == http.MethodPost {
		return parseListParamsJSON(r)
	}
	return parseListParamsQuery(r.URL.Query())
}

func parseListParamsQuery(q url.Values) (listParams, *apiError) {
	var p listParams

	limit, aerr := parseLimit(q.Get("limit"))
	if aerr != nil {
		return p, aerr
	}
	p.Limit = limit

	afterRaw := firstNonEmpty(q.Get("after"), q.Get("start_after"))
	beforeRaw := q.Get("before")
	c, dir, aerr := parseCursorPair(afterRaw, beforeRaw)
	if aerr != nil {
		return p, aerr
	}
	p.Cursor = c
	p.Direction = dir

	ledgerRaw := firstNonEmpty(q.Get("ledger"), q.Get("start_ledger"))
	ledger, aerr := parseLedger(ledgerRaw)
	if aerr != nil {
		return p, aerr
	}
	p.Ledger = ledger

	if tx := q.Get("tx"); tx != "" {
		p.Tx = &tx
	}

	hasQ := q.Get("q") != ""
	hasFilters := q.Get("filters") != ""
	if hasQ && hasFilters {
		return p, newAPIError(http.StatusBadRequest, "invalid_parameter", "q", "q and filters are mutually exclusive")
	}

	switch {
	case hasQ:
		filters, err := query.Compile(q.Get("q"))
		if err != nil {
			return p, mapError(err, "q")
		}
		p.Filters = filters
	case hasFilters:
		filters, aerr := parseLegacyFilters([]byte(q.Get("filters")))
		if aerr != nil {
			return p, aerr
		}
		p.Filters = filters
	}

	if aerr := applyTxLedgerConstraint(&p); aerr != nil {
		return p, aerr
	}
	return p, nil
}

func parseListParamsJSON(r *http.Request) (listParams, *apiError) {
	var p listParams

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return p, newAPIError(http.StatusBadRequest, "invalid_parameter", "", "could not read request body")
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	var req jsonListBody
	if err := json.Unmarshal(body, &req); err != nil {
		return p, newAPIError(http.StatusBadRequest, "invalid_parameter", "", fmt.Sprintf("invalid JSON body: %v", err))
	}

	p.Limit = defaultLimit
	if req.Limit != nil {
		limit, aerr := validateLimit(*req.Limit)
		if aerr != nil {
			return p, aerr
		}
		p.Limit = limit
	}

	afterRaw := ""
	if req.After != nil {
		afterRaw = *req.After
	} else if req.StartAfter != nil {
		afterRaw = *req.StartAfter
	}
	beforeRaw := ""
	if req.Before != nil {
		beforeRaw = *req.Before
	}
	c, dir, aerr := parseCursorPair(afterRaw, beforeRaw)
	if aerr != nil {
		return p, aerr
	}
	p.Cursor = c
	p.Direction = dir

	if req.Ledger != nil {
		p.Ledger = req.Ledger
	} else if req.StartLedger != nil {
		p.Ledger = req.StartLedger
	}
	p.Tx = req.Tx

	hasQ := len(req.Q) > 0 && string(req.Q) != "null"
	hasFilters := len(req.Filters) > 0 && string(req.Filters) != "null"
	if hasQ && hasFilters {
		return p, newAPIError(http.StatusBadRequest, "invalid_parameter", "q", "q and filters are mutually exclusive")
	}

	switch {
	case hasQ:
		filters, aerr := compileQJSON(req.Q)
		if aerr != nil {
			return p, aerr
		}
		p.Filters = filters
	case hasFilters:
		filters, aerr := parseLegacyFilters(req.Filters)
		if aerr != nil {
			return p, aerr
		}
		p.Filters = filters
	}

	if aerr := applyTxLedgerConstraint(&p); aerr != nil {
		return p, aerr
	}
	return p, nil
}

// compileQJSON accepts q either as a JSON string (string-form grammar, same
// as GET) or as a structured JSON-form query node object.
func compileQJSON(raw json.RawMessage) ([]filter.EventFilter, *apiError) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		filters, err := query.Compile(asString)
		if err != nil {
			return nil, mapError(err, "q")
		}
		return filters, nil
	}
	filters, err := query.CompileJSON(raw)
	if err != nil {
		return nil, mapError(err, "q")
	}
	return filters, nil
}

func parseLegacyFilters(raw []byte) ([]filter.EventFilter, *apiError) {
	var legacy []legacyFilter
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, newAPIError(http.StatusBadRequest, "invalid_parameter", "filters", fmt.Sprintf("invalid filters array: %v", err))
	}

	out := make([]filter.EventFilter, 0, len(legacy))
	for _, lf := range legacy {
		var ef filter.EventFilter
		if lf.EventType != nil {
			et := decoder.EventType(*lf.EventType)
			if et != decoder.EventTypeContract && et != decoder.EventTypeSystem && et != decoder.EventTypeDiagnostic {
				return nil, newAPIError(http.StatusBadRequest, "invalid_value", "filters", fmt.Sprintf("invalid event_type %q", *lf.EventType))
			}
			ef.EventType = &et
		}
		ef.ContractID = lf.ContractID
		if len(lf.Topics) > 0 {
			ef.Topics = lf.Topics
		}
		if len(lf.TopicsAny) > 0 {
			ef.TopicsAny = lf.TopicsAny
		}
		out = append(out, ef)
	}
	return out, nil
}

// applyTxLedgerConstraint enforces that a top-level tx parameter is only
// meaningful alongside a ledger, and folds both into every compiled filter
// (or a single implicit one) as an additional conjunctive constraint.
func applyTxLedgerConstraint(p *listParams) *apiError {
	if p.Tx != nil && p.Ledger == nil {
		return newAPIError(http.StatusBadRequest, "missing_dependency", "tx", "tx requires ledger")
	}
	if p.Ledger == nil && p.Tx == nil {
		return nil
	}
	if len(p.Filters) == 0 {
		p.Filters = []filter.EventFilter{{}}
	}
	for i := range p.Filters {
		if p.Ledger != nil && p.Filters[i].Ledger == nil {
			p.Filters[i].Ledger = p.Ledger
		}
		if p.Tx != nil && p.Filters[i].TxHash == nil {
			p.Filters[i].TxHash = p.Tx
		}
	}
	return nil
}

func parseLimit(raw string) (int, *apiError) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "invalid_parameter", "limit", "limit must be an integer")
	}
	return validateLimit(n)
}

func validateLimit(n int) (int, *apiError) {
	if n < 1 || n > maxLimit {
		return 0, newAPIError(http.StatusBadRequest, "invalid_parameter", "limit", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return n, nil
}

func parseLedger(raw string) (*uint32, *apiError) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return nil, newAPIError(http.StatusBadRequest, "invalid_parameter", "ledger", "ledger must be a positive integer")
	}
	v := uint32(n)
	return &v, nil
}

// parseCursorPair decodes at most one of after/before (if both are given,
// after is used and before is ignored) and derives the iteration
// direction: after walks toward older events (descending), before walks
// toward newer ones (ascending).
func parseCursorPair(afterRaw, beforeRaw string) (*cursor.Tuple, store.Direction, *apiError) {
	if afterRaw != "" {
		t, err := cursor.Decode(afterRaw)
		if err != nil {
			return nil, store.Before, newAPIError(http.StatusBadRequest, "invalid_cursor", "after", err.Error())
		}
		return &t, store.Before, nil
	}
	if beforeRaw != "" {
		t, err := cursor.Decode(beforeRaw)
		if err != nil {
			return nil, store.After, newAPIError(http.StatusBadRequest, "invalid_cursor", "before", err.Error())
		}
		return &t, store.After, nil
	}
	return nil, store.Before, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
