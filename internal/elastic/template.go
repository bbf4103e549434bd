package elastic

import (
	"context"
	"encoding/json"
	"net/http"

	"props2mcp/internal/model"
)

// PutScript stores a mustache search template under id. The source is
// uploaded verbatim; its execution semantics are the backend's business.
func (c *Client) PutScript(ctx context.Context, id, source string) error {
	body, err := json.Marshal(map[string]interface{}{
		"script": map[string]interface{}{
			"lang":   "mustache",
			"source": source,
		},
	})
	if err != nil {
		return err
	}
	return c.do(ctx, c.control, http.MethodPut, "/_scripts/"+id, body, nil)
}

// DeleteScript removes a stored template. Not-found is tolerated so template
// replacement stays idempotent.
func (c *Client) DeleteScript(ctx context.Context, id string) error {
	err := c.do(ctx, c.control, http.MethodDelete, "/_scripts/"+id, nil, nil)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// GetScriptSource fetches the raw source of a stored template.
func (c *Client) GetScriptSource(ctx context.Context, id string) (string, error) {
	var out struct {
		Script struct {
			Source string `json:"source"`
		} `json:"script"`
	}
	err := c.do(ctx, c.control, http.MethodGet, "/_scripts/"+id, nil, &out)
	if err != nil {
		if IsNotFound(err) {
			return "", model.ErrTemplateNotFound
		}
		return "", err
	}
	return out.Script.Source, nil
}

// TemplateHit is one search-template result with the requested stored fields.
// Field values arrive as arrays even for scalars, per the fields API.
type TemplateHit struct {
	Fields map[string][]interface{} `json:"fields"`
}

// TemplateResponse carries the total match count and hits of a template
// search.
type TemplateResponse struct {
	Total int64
	Hits  []TemplateHit
}

// SearchTemplate executes the stored template id against index with the
// given parameters.
func (c *Client) SearchTemplate(ctx context.Context, index, id string, params map[string]interface{}) (TemplateResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"params": params,
	})
	if err != nil {
		return TemplateResponse{}, err
	}

	var out struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []TemplateHit `json:"hits"`
		} `json:"hits"`
	}
	if err := c.do(ctx, c.control, http.MethodPost, "/"+index+"/_search/template", body, &out); err != nil {
		return TemplateResponse{}, err
	}
	return TemplateResponse{Total: out.Hits.Total.Value, Hits: out.Hits.Hits}, nil
}

// Field returns the first value of a named stored field, or fallback when
// the field is absent or empty.
func (h TemplateHit) Field(name string, fallback interface{}) interface{} {
	values, ok := h.Fields[name]
	if !ok || len(values) == 0 {
		return fallback
	}
	return values[0]
}
