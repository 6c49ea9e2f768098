package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Remote calls a model service over HTTP:
//
//	POST <url>/predict  {"columns": [...], "rows": [[...], ...]}
//	200                 {"predictions": [0, 1, ...]}
//
// Missing values are sent as JSON null.
type Remote struct {
	url        string
	columns    []string
	httpClient *http.Client
}

// NewRemote returns a client for the service at baseURL.
func NewRemote(baseURL string, timeout time.Duration, columns []string) *Remote {
	return &Remote{
		url:     strings.TrimRight(baseURL, "/") + "/predict",
		columns: append([]string(nil), columns...),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type remoteRequest struct {
	Columns []string     `json:"columns"`
	Rows    [][]*float64 `json:"rows"`
}

type remoteResponse struct {
	Predictions []int `json:"predictions"`
}

// Predict implements gate.Classifier.
func (c *Remote) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	if err := checkWidth(X, len(c.columns)); err != nil {
		return nil, err
	}

	req := remoteRequest{Columns: c.columns, Rows: make([][]*float64, len(X))}
	for i, row := range X {
		out := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				out[j] = &row[j]
			}
		}
		req.Rows[i] = out
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call model service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return out.Predictions, nil
}
