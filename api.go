package togglekit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// featureFetcher is the repository's view of the remote service: one
// conditional fetch of the full toggle set. The etag argument carries the
// last-seen validation token; the returned token replaces it on success.
// A "not modified" answer is reported as errNotModified.
type featureFetcher interface {
	fetchFeatures(ctx context.Context, etag string) (*featureResponse, string, error)
}

// metricsSender is the metrics collector's view of the remote service.
type metricsSender interface {
	register(ctx context.Context, payload registrationPayload) error
	sendMetrics(ctx context.Context, payload metricsPayload) error
}

const (
	featuresEndpoint = "client/features"
	metricsEndpoint  = "client/metrics"
	registerEndpoint = "client/register"

	headerAppName    = "UNLEASH-APPNAME"
	headerInstanceID = "UNLEASH-INSTANCEID"

	userAgent = "togglekit/1.0"

	requestTimeout = 10 * time.Second
)

// apiClient talks to the remote toggle service over one pooled HTTP client.
// It implements both featureFetcher and metricsSender.
type apiClient struct {
	baseURL    string
	appName    string
	instanceID string
	headers    map[string]string
	client     *http.Client
}

func newAPIClient(baseURL, appName, instanceID string, headers map[string]string, client *http.Client) *apiClient {
	if client == nil {
		client = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &apiClient{
		baseURL:    baseURL,
		appName:    appName,
		instanceID: instanceID,
		headers:    headers,
		client:     client,
	}
}

func (a *apiClient) fetchFeatures(ctx context.Context, etag string) (*featureResponse, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.baseURL+featuresEndpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	a.setHeaders(req)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, etag, errNotModified
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", fmt.Errorf("%w: %s", ErrFetchFailed, statusError(resp))
	}

	var body featureResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("%w: decoding response: %w", ErrFetchFailed, err)
	}
	return &body, resp.Header.Get("ETag"), nil
}

func (a *apiClient) register(ctx context.Context, payload registrationPayload) error {
	if err := a.post(ctx, registerEndpoint, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}
	return nil
}

func (a *apiClient) sendMetrics(ctx context.Context, payload metricsPayload) error {
	if err := a.post(ctx, metricsEndpoint, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrMetricsSend, err)
	}
	return nil
}

func (a *apiClient) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	a.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s", statusError(resp))
	}
	return nil
}

func (a *apiClient) setHeaders(req *http.Request) {
	req.Header.Set(headerAppName, a.appName)
	req.Header.Set(headerInstanceID, a.instanceID)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
}

// statusError summarizes a non-2xx response, including a sanitized slice of
// the body for diagnosis. The 1KB limit keeps pathological responses out of
// logs and event payloads.
func statusError(resp *http.Response) string {
	msg := fmt.Sprintf("service returned status %d", resp.StatusCode)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if len(body) > 0 {
		snippet := strings.ReplaceAll(string(body), "\n", " ")
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		msg += ": " + snippet
	}
	return msg
}
