package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/unclebandit/mailflow-backend/internal/model"
)

// HTTPAnalyzer calls an external reply analysis service.
type HTTPAnalyzer struct {
	BaseURL string
	Client  *http.Client
}

var _ Analyzer = (*HTTPAnalyzer)(nil)

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, in AnalysisRequest) (*model.Analysis, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	var out model.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("Analyze: decode: %w", err)
	}
	return &out, nil
}
