package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/ukydev/fleet-dispatch/internal/depot"
	"github.com/ukydev/fleet-dispatch/internal/handlers"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// APIError is a non-2xx answer from the dispatch API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

// apiClient talks to the dispatch API as one driver.
type apiClient struct {
	baseURL string
	http    *http.Client
	token   string
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(data), out)
}

// Login runs the OTP flow. code supplies the one-time code once it has been requested.
func (c *apiClient) Login(ctx context.Context, phone string, code func() (string, error)) (*models.User, error) {
	if err := c.postJSON(ctx, "/auth/otp/request", models.OTPRequest{Phone: phone}, nil); err != nil {
		return nil, fmt.Errorf("request code: %w", err)
	}
	otp, err := code()
	if err != nil {
		return nil, err
	}

	var resp models.LoginResponse
	if err := c.postJSON(ctx, "/auth/otp/verify", models.OTPVerifyRequest{Phone: phone, Code: otp}, &resp); err != nil {
		return nil, fmt.Errorf("verify code: %w", err)
	}
	c.token = resp.Token
	return &resp.User, nil
}

// SelectOrg scopes the session to orgID.
func (c *apiClient) SelectOrg(ctx context.Context, orgID string) error {
	var resp models.LoginResponse
	if err := c.postJSON(ctx, "/auth/org", models.SelectOrgRequest{OrgID: orgID}, &resp); err != nil {
		return fmt.Errorf("select organization: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *apiClient) Depot(ctx context.Context, orgID string) (*models.DepotConfig, error) {
	var cfg models.DepotConfig
	if err := c.do(ctx, http.MethodGet, "/orgs/"+orgID+"/depot", "", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *apiClient) CheckDepot(ctx context.Context, at models.GeoPoint) (depot.Result, error) {
	var resp handlers.CheckResponse
	err := c.postJSON(ctx, "/depot/check", handlers.CheckRequest{Location: &at}, &resp)
	return resp.Result, err
}

func (c *apiClient) Dispatch(ctx context.Context, req handlers.DispatchRequest) (string, error) {
	var resp handlers.DispatchResponse
	if err := c.postJSON(ctx, "/trips", req, &resp); err != nil {
		return "", err
	}
	return resp.TripID, nil
}

func (c *apiClient) SendFixes(ctx context.Context, tripID string, fixes []handlers.LocationFix) error {
	return c.postJSON(ctx, "/trips/"+tripID+"/locations", handlers.LocationBatch{Fixes: fixes}, nil)
}

// Deliver uploads a proof-of-delivery image.
func (c *apiClient) Deliver(ctx context.Context, tripID, filename string, image []byte) (*models.Trip, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var t models.Trip
	if err := c.do(ctx, http.MethodPost, "/trips/"+tripID+"/deliver", mw.FormDataContentType(), &buf, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *apiClient) Return(ctx context.Context, tripID string, req handlers.ReturnRequest) (*models.Trip, error) {
	var t models.Trip
	if err := c.postJSON(ctx, "/trips/"+tripID+"/return", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
