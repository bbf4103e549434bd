package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"props2mcp/internal/model"
)

// BulkItemFailure is one rejected document from a bulk response. Line carries
// the originating source line, threaded through from the submitted records.
type BulkItemFailure struct {
	Line   int
	DocID  string
	Type   string
	Reason string
}

// BulkResult reports per-document outcomes of one batch submission.
type BulkResult struct {
	Succeeded int
	Failures  []BulkItemFailure
}

// BulkIndex submits one batch of records as index actions. Identifiers are
// store-generated. Response items come back in submission order, which is
// what lets each outcome be matched to its record's line number.
func (c *Client) BulkIndex(ctx context.Context, index string, records []model.RawRecord) (BulkResult, error) {
	if len(records) == 0 {
		return BulkResult{}, nil
	}

	var buf bytes.Buffer
	action := []byte(`{"index":{"_index":` + string(mustJSONString(index)) + `}}` + "\n")
	for _, rec := range records {
		buf.Write(action)
		buf.Write(rec.Doc)
		buf.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_bulk", &buf)
	if err != nil {
		return BulkResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	c.authorize(req)

	resp, err := c.bulk.Do(req)
	if err != nil {
		return BulkResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return BulkResult{}, parseAPIError(resp)
	}

	var body struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{}
	for i, item := range body.Items {
		// each item is keyed by its action name; index actions only here
		for _, outcome := range item {
			if outcome.Error == nil && outcome.Status < 400 {
				result.Succeeded++
				continue
			}
			failure := BulkItemFailure{DocID: outcome.ID}
			if i < len(records) {
				failure.Line = records[i].Line
			}
			if outcome.Error != nil {
				failure.Type = outcome.Error.Type
				failure.Reason = outcome.Error.Reason
			} else {
				failure.Type = "bulk_rejection"
				failure.Reason = http.StatusText(outcome.Status)
			}
			result.Failures = append(result.Failures, failure)
		}
	}
	return result, nil
}

func mustJSONString(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		// a plain string cannot fail to marshal
		panic(err)
	}
	return b
}
