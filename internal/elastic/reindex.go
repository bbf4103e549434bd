package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// TaskStatus is a snapshot of an asynchronous reindex task. Progress counters
// are whatever the backend exposes mid-flight; Created and TookMillis are
// populated once Completed is true.
type TaskStatus struct {
	Completed  bool
	Created    int64
	Total      int64
	TookMillis int64
}

// StartReindex kicks off a non-blocking server-side copy from source to dest
// and returns the task id to poll. maxDocs caps the copy when positive
// (sampling-style reindex runs).
func (c *Client) StartReindex(ctx context.Context, source, dest string, maxDocs int64) (string, error) {
	body := map[string]interface{}{
		"source": map[string]interface{}{"index": source},
		"dest":   map[string]interface{}{"index": dest},
	}
	if maxDocs > 0 {
		body["max_docs"] = maxDocs
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var out struct {
		Task string `json:"task"`
	}
	// The start call goes through the single-shot client: a retried POST on a
	// lost response would launch a duplicate server-side copy task.
	if err := c.do(ctx, c.bulk, http.MethodPost, "/_reindex?wait_for_completion=false", raw, &out); err != nil {
		return "", err
	}
	return out.Task, nil
}

// GetTask fetches the current status of a reindex task.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskStatus, error) {
	var out struct {
		Completed bool `json:"completed"`
		Task      struct {
			Status struct {
				Total   int64 `json:"total"`
				Created int64 `json:"created"`
			} `json:"status"`
		} `json:"task"`
		Response struct {
			Created int64 `json:"created"`
			Took    int64 `json:"took"`
		} `json:"response"`
	}
	path := "/_tasks/" + url.PathEscape(taskID)
	if err := c.do(ctx, c.control, http.MethodGet, path, nil, &out); err != nil {
		return TaskStatus{}, err
	}

	status := TaskStatus{
		Completed: out.Completed,
		Created:   out.Task.Status.Created,
		Total:     out.Task.Status.Total,
	}
	if out.Completed {
		status.Created = out.Response.Created
		status.TookMillis = out.Response.Took
	}
	return status, nil
}
