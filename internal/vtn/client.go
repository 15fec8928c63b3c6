package vtn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const maxErrorBody = 512

// Client implements the calls made against the VTN HTTP JSON API
type Client struct {
	httpClient     *http.Client
	baseURL        string
	tokens         TokenProvider
	requestTimeout time.Duration
	bulkTimeout    time.Duration
	logger         *zap.Logger
}

// Options holds the per-call timeouts of a Client
type Options struct {
	RequestTimeout time.Duration
	BulkTimeout    time.Duration
}

// New creates a VTN client. Each client owns its own http.Client.
func New(baseURL string, tokens TokenProvider, opts Options, logger *zap.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.BulkTimeout <= 0 {
		opts.BulkTimeout = 300 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{},
		baseURL:        baseURL,
		tokens:         tokens,
		requestTimeout: opts.RequestTimeout,
		bulkTimeout:    opts.BulkTimeout,
		logger:         logger.With(zap.String("host", baseURL)),
	}
}

// RegisterVen creates a VEN identity. A 409 yields ErrRegistrationConflict.
func (c *Client) RegisterVen(ctx context.Context, venName string) (*VenRegistration, error) {
	body := VenRequest{
		VenName:    venName,
		ClientName: "Client_" + venName,
	}

	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodPost, "/vens", nil, body, "")
	if err != nil {
		return nil, fmt.Errorf("register ven %s: %w", venName, err)
	}

	switch {
	case status == http.StatusConflict:
		return nil, fmt.Errorf("register ven %s: %w", venName, ErrRegistrationConflict)
	case status != http.StatusCreated && status != http.StatusOK:
		return nil, &StatusError{Op: "register ven " + venName, StatusCode: status, Body: truncate(respBody)}
	}

	var reg VenRegistration
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return nil, fmt.Errorf("register ven %s: parse body: %w", venName, err)
	}
	if reg.VenName == "" {
		reg.VenName = venName
	}
	return &reg, nil
}

// RegisterResource registers one load as a VTN resource and returns the assigned id.
// 409 yields ErrRegistrationConflict and 500 yields ErrRegistrationAmbiguous.
func (c *Client) RegisterResource(ctx context.Context, req ResourceRequest) (*ResourceRegistration, error) {
	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodPost, "/resources", nil, req, "")
	if err != nil {
		return nil, fmt.Errorf("register resource %s: %w", req.ResourceName, err)
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
	case http.StatusConflict:
		return nil, fmt.Errorf("register resource %s: %w", req.ResourceName, ErrRegistrationConflict)
	case http.StatusInternalServerError:
		return nil, fmt.Errorf("register resource %s: %w", req.ResourceName, ErrRegistrationAmbiguous)
	default:
		return nil, &StatusError{Op: "register resource " + req.ResourceName, StatusCode: status, Body: truncate(respBody)}
	}

	var reg ResourceRegistration
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return nil, fmt.Errorf("register resource %s: parse body: %w", req.ResourceName, err)
	}
	if reg.ID == "" {
		return nil, fmt.Errorf("register resource %s: response carries no id", req.ResourceName)
	}
	return &reg, nil
}

// FindRegistrations returns every VTN resource that identifies the load in req.
// Callers treat anything other than exactly one match as unresolved.
func (c *Client) FindRegistrations(ctx context.Context, req ResourceRequest) ([]ResourceRegistration, error) {
	query := url.Values{}
	query.Set("resource_name", req.ResourceName)
	query.Set("ven_name", req.VenName)

	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodGet, "/resources", query, nil, "")
	if err != nil {
		return nil, fmt.Errorf("find resource %s: %w", req.ResourceName, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &StatusError{Op: "find resource " + req.ResourceName, StatusCode: status, Body: truncate(respBody)}
	}

	var found []ResourceRegistration
	if err := json.Unmarshal(respBody, &found); err != nil {
		return nil, fmt.Errorf("find resource %s: parse body: %w", req.ResourceName, err)
	}

	var matches []ResourceRegistration
	for _, r := range found {
		if r.Identifies(req) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// CreateReport posts one live telemetry reading. venToken, when set, replaces the service token.
func (c *Client) CreateReport(ctx context.Context, venToken string, report ReportRequest) error {
	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodPost, "/reports", nil, report, venToken)
	if err != nil {
		return fmt.Errorf("create report %s: %w", report.ReportName, err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return &StatusError{Op: "create report " + report.ReportName, StatusCode: status, Body: truncate(respBody)}
	}
	return nil
}

// PollEvents fetches the events visible to a VEN
func (c *Client) PollEvents(ctx context.Context, venToken string) ([]Event, error) {
	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodGet, "/events", nil, nil, venToken)
	if err != nil {
		return nil, fmt.Errorf("poll events: %w", err)
	}
	if status != http.StatusOK {
		return nil, &StatusError{Op: "poll events", StatusCode: status, Body: truncate(respBody)}
	}

	var events []Event
	if err := json.Unmarshal(respBody, &events); err != nil {
		return nil, fmt.Errorf("poll events: parse body: %w", err)
	}
	return events, nil
}

// RespondToEvent sends a VEN's opt-in or opt-out for one event
func (c *Client) RespondToEvent(ctx context.Context, venToken, eventID string, response ResponseType) error {
	body := EventResponse{EventID: eventID, ResponseType: response}
	path := "/events/" + url.PathEscape(eventID) + "/responses"

	status, respBody, err := c.do(ctx, c.requestTimeout, http.MethodPost, path, nil, body, venToken)
	if err != nil {
		return fmt.Errorf("respond to event %s: %w", eventID, err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return &StatusError{Op: "respond to event " + eventID, StatusCode: status, Body: truncate(respBody)}
	}
	return nil
}

// UploadBulk posts one chunk of historical points using the bulk timeout
func (c *Client) UploadBulk(ctx context.Context, resourceID string, points []DataPoint, batchSize int) (*BulkUploadResult, error) {
	query := url.Values{}
	query.Set("resource_id", resourceID)
	query.Set("batch_size", strconv.Itoa(batchSize))

	body := BulkUploadRequest{ResourceID: resourceID, Points: points}

	status, respBody, err := c.do(ctx, c.bulkTimeout, http.MethodPost, "/report_data/bulk", query, body, "")
	if err != nil {
		return nil, fmt.Errorf("bulk upload %s: %w", resourceID, err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, &StatusError{Op: "bulk upload " + resourceID, StatusCode: status, Body: truncate(respBody)}
	}

	var result BulkUploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("bulk upload %s: parse body: %w", resourceID, err)
	}
	return &result, nil
}

// do performs one authorized JSON call under its own timeout
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body interface{}, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token == "" {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("authorization: %w", err)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("%w: read body: %w", ErrTransient, err)
	}

	c.logger.Debug("vtn call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", response.StatusCode),
	)

	return response.StatusCode, respBody, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
