package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cogniforge/qpipeline/core"
)

// Reporter posts run summaries to an external audit endpoint. All
// transport errors are swallowed: report_run never fails the pipeline
// (§4.14/§7).
type Reporter struct {
	Endpoint   string // e.g. https://audit.example.com
	ServiceKey string
	HTTPClient *http.Client
	Logger     core.Logger
}

func New(endpoint, serviceKey string, timeout time.Duration, logger core.Logger) *Reporter {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Reporter{
		Endpoint:   endpoint,
		ServiceKey: serviceKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

type runCreatedResponse struct {
	ID string `json:"id"`
}

// ReportRun POSTs payload to <Endpoint>/v1/admin/generation-runs. It
// returns the server-assigned run id on HTTP 201, or nil on any other
// outcome (connect failure, timeout, non-2xx status, malformed body) —
// always logged, never returned as an error.
func (r *Reporter) ReportRun(ctx context.Context, payload Payload) *string {
	if r.Endpoint == "" {
		r.Logger.Debug("reporter: no endpoint configured, skipping report_run", nil)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		r.Logger.Warn("reporter: failed to marshal run payload", map[string]interface{}{"error": err.Error()})
		return nil
	}

	url := fmt.Sprintf("%s/v1/admin/generation-runs", r.Endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.Logger.Warn("reporter: failed to build request", map[string]interface{}{"error": err.Error()})
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Key", r.ServiceKey)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		r.Logger.Warn("reporter: run report unreachable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		r.Logger.Warn("reporter: run report rejected", map[string]interface{}{"status_code": resp.StatusCode})
		return nil
	}

	var created runCreatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		r.Logger.Warn("reporter: failed to decode run report response", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if created.ID == "" {
		return nil
	}
	return &created.ID
}
