// Package classify talks to the external batch-classification service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for dispatch failures.
var (
	// ErrDispatchFailed: the publish call returned a non-success status or
	// failed at the transport level. The batch was not recorded; re-sending
	// the same window later is safe.
	ErrDispatchFailed = errors.New("classification dispatch failed")
	// ErrDispatchTimeout: the call did not complete within the client
	// timeout. The batch is treated as not dispatched.
	ErrDispatchTimeout = errors.New("classification dispatch timed out")
	// ErrProtocolMismatch: the service returned a job-id count that differs
	// from the submitted item count. Fatal for the run; never zip-shortest.
	ErrProtocolMismatch = errors.New("job id count does not match batch size")
)

// BatchItem is one dispatched catalog record in the publish wire format.
type BatchItem struct {
	DataURL              string `json:"dataUrl"`
	BatchSize            int    `json:"batchSize"`
	ByteSize             int64  `json:"bytesize"`
	DecompressedByteSize int64  `json:"decompressedByteSize"`
	ChecksumMD5          string `json:"checksumMd5"`
	ClassifierID         string `json:"classifierId"`
}

// PublishBatchRequest is the body of one publish call.
type PublishBatchRequest struct {
	Data []BatchItem `json:"data"`
}

// Client is the interface for dispatching batches to the classification
// service.
type Client interface {
	// PublishBatch submits one batch and returns the externally assigned job
	// ids, positionally aligned with req.Data.
	PublishBatch(ctx context.Context, req PublishBatchRequest) ([]string, error)
}

// HTTPClient implements Client against the classification service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a classification service client with a bounded
// request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const maxErrorBodyBytes = 4096

func (c *HTTPClient) PublishBatch(ctx context.Context, req PublishBatchRequest) ([]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding publish request: %w", err)
	}

	u := fmt.Sprintf("%s/publish_batch_classify_job", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%w: status %d: %s", ErrDispatchFailed, resp.StatusCode, detail)
	}

	var publishResp publishBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&publishResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrDispatchFailed, err)
	}

	if len(publishResp.IDs) != len(req.Data) {
		return nil, fmt.Errorf("%w: sent %d items, got %d ids",
			ErrProtocolMismatch, len(req.Data), len(publishResp.IDs))
	}

	return publishResp.IDs, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
}

type publishBatchResponse struct {
	IDs []string `json:"ids"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
