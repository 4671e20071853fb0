package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/logger"
	"ms-reconciler/internal/models"
)

// HTTPError is an unexpected HTTP status with no well-formed fault payload.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned HTTP %d %s", e.StatusCode, e.Status)
}

// ProtocolFault is a well-formed gateway error payload describing a rejected
// request. It is a definite, non-retryable caller error.
type ProtocolFault struct {
	FaultCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func (e *ProtocolFault) Error() string {
	return fmt.Sprintf("gateway rejected request (fault %s): %s", e.FaultCode, e.Message)
}

// BodyError is a response body that arrived but could not be consumed:
// truncated stream, bad chunked encoding, or an empty body where one was
// required.
type BodyError struct {
	Cause error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("gateway response body invalid: %v", e.Cause)
}

func (e *BodyError) Unwrap() error { return e.Cause }

// CallRequest is one synchronous gateway operation.
type CallRequest struct {
	Kind              models.TransactionKind `json:"kind"`
	MerchantAccount   string                 `json:"merchantAccount"`
	Reference         string                 `json:"reference"`
	OriginalReference string                 `json:"originalReference,omitempty"`
	Amount            models.Amount          `json:"amount"`
	AdditionalData    map[string]string      `json:"additionalData,omitempty"`
}

// CallResponse is the typed success payload of a gateway call.
type CallResponse struct {
	Reference      string            `json:"reference"`
	ResultCode     string            `json:"resultCode"`
	Refusal        string            `json:"refusalReason,omitempty"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
}

// Authorised reports whether the gateway accepted the operation. Received and
// challenge result codes are accepted but stay pending locally.
func (r *CallResponse) Authorised() bool {
	switch r.ResultCode {
	case "Authorised", "Received", models.ChallengeMarker, models.IdentifyMarker:
		return true
	}
	return false
}

// Pending reports whether the gateway accepted the operation without a final
// outcome yet (redirect, async capture, outstanding shopper challenge).
func (r *CallResponse) Pending() bool {
	switch r.ResultCode {
	case "Received", "RedirectShopper", models.ChallengeMarker, models.IdentifyMarker:
		return true
	}
	return false
}

var operationPaths = map[models.TransactionKind]string{
	models.KindAuthorize: "/Payment/authorise",
	models.KindPurchase:  "/Payment/authorise",
	models.KindCapture:   "/Payment/capture",
	models.KindRefund:    "/Payment/refund",
	models.KindVoid:      "/Payment/cancel",
	models.KindCredit:    "/Payment/refundWithData",
}

// Client performs the wire call to the gateway. It is bounded by the
// configured connect and read timeouts and never retries; the caller decides
// retry policy from the classifier's label.
type Client struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	log        *logger.Logger
}

func NewClient(cfg config.GatewayConfig, log *logger.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		baseURL:    cfg.BaseURL,
		merchantID: cfg.MerchantID,
		log:        log,
	}
}

// Call performs one synchronous operation. The returned error is shaped for
// the classifier: transport failures pass through, HTTP and protocol faults
// come back as typed errors.
func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
	path, ok := operationPaths[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported gateway operation: %s", req.Kind)
	}
	if req.MerchantAccount == "" {
		req.MerchantAccount = c.merchantID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.log.LogAPI(http.MethodPost, path, resp.Status, time.Since(started).String())

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BodyError{Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fault ProtocolFault
		if json.Unmarshal(payload, &fault) == nil && fault.Message != "" {
			return nil, &fault
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if len(payload) == 0 {
		return nil, &BodyError{Cause: fmt.Errorf("empty body on %s", resp.Status)}
	}

	var result CallResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &BodyError{Cause: err}
	}
	return &result, nil
}
