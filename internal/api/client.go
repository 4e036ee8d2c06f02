package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	httpTimeoutEnvKey  = "FILEVAULT_HTTP_TIMEOUT"
	apiTokenEnvKey     = "FILEVAULT_TOKEN"
	adminTokenEnvKey   = "FILEVAULT_ADMIN_TOKEN"

	// ContentLengthHeader carries the expected upload size so the server
	// can reject truncated streams.
	ContentLengthHeader = "X-Content-Length"
	AdminTokenHeader    = "X-Admin-Token"
	ConfirmHeader       = "X-Confirm"
	RequestIDHeader     = "X-Request-ID"
)

// Client is a simple HTTP client for the filevault API.
type Client struct {
	baseURL    string
	http       *http.Client
	transfer   *http.Client
	authToken  string
	adminToken string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeoutFromEnv()},
		// Uploads and downloads are bounded by their context, not a fixed timeout.
		transfer:   &http.Client{},
		authToken:  strings.TrimSpace(os.Getenv(apiTokenEnvKey)),
		adminToken: strings.TrimSpace(os.Getenv(adminTokenEnvKey)),
	}
}

// WithToken sets the bearer token when token is non-empty.
func (c *Client) WithToken(token string) *Client {
	if token = strings.TrimSpace(token); token != "" {
		c.authToken = token
	}
	return c
}

// WithAdminToken sets the admin token when token is non-empty.
func (c *Client) WithAdminToken(token string) *Client {
	if token = strings.TrimSpace(token); token != "" {
		c.adminToken = token
	}
	return c
}

// Ping checks whether the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) GetInfo(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, nil, &resp)
	return resp, err
}

func (c *Client) Register(ctx context.Context, req AuthCredentials) (AuthUser, error) {
	var resp AuthUser
	err := c.do(ctx, http.MethodPost, "/v1/auth/register", nil, req, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, req AuthCredentials) (AuthLoginResponse, error) {
	var resp AuthLoginResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", nil, req, &resp)
	return resp, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, nil, nil)
}

func (c *Client) Me(ctx context.Context) (AuthMeResponse, error) {
	var resp AuthMeResponse
	err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, nil, &resp)
	return resp, err
}

func (c *Client) ListFiles(ctx context.Context, query url.Values) ([]FileResponse, error) {
	var resp []FileResponse
	err := c.do(ctx, http.MethodGet, "/v1/files", query, nil, &resp)
	return resp, err
}

func (c *Client) GetFile(ctx context.Context, id int64) (FileResponse, error) {
	var resp FileResponse
	err := c.do(ctx, http.MethodGet, filePath(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) UpdateFile(ctx context.Context, id int64, req FileUpdateRequest) (FileResponse, error) {
	var resp FileResponse
	err := c.do(ctx, http.MethodPatch, filePath(id), nil, req, &resp)
	return resp, err
}

func (c *Client) DeleteFile(ctx context.Context, id int64) (FileDeleteResponse, error) {
	var resp FileDeleteResponse
	err := c.do(ctx, http.MethodDelete, filePath(id), nil, nil, &resp)
	return resp, err
}

// Upload streams content as a multipart form without buffering it in memory.
func (c *Client) Upload(ctx context.Context, req UploadRequest, content io.Reader) (FileResponse, error) {
	var resp FileResponse

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req, content))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", pr)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if req.Size >= 0 {
		httpReq.Header.Set(ContentLengthHeader, strconv.FormatInt(req.Size, 10))
	}
	c.setAuthHeader(httpReq)

	httpResp, err := c.transfer.Do(httpReq)
	if err != nil {
		_ = pr.Close()
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

func writeUploadForm(mw *multipart.Writer, req UploadRequest, content io.Reader) error {
	if req.Path != "" {
		if err := mw.WriteField("path", req.Path); err != nil {
			return err
		}
	}
	if req.MediaType != "" {
		if err := mw.WriteField("media_type", req.MediaType); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mw.Close()
}

// Download copies the content of file id to w and returns the byte count.
func (c *Client) Download(ctx context.Context, id int64, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+filePath(id)+"/content", nil)
	if err != nil {
		return 0, err
	}
	c.setAuthHeader(req)
	resp, err := c.transfer.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) AdminReconcile(ctx context.Context, req ReconcileRequest, confirm bool) (ReconcileResponse, error) {
	var resp ReconcileResponse
	payload, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/admin/reconcile", bytes.NewReader(payload))
	if err != nil {
		return resp, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if confirm {
		httpReq.Header.Set(ConfirmHeader, "true")
	}
	c.setAdminHeader(httpReq)
	// A sweep walks the whole blob tree.
	httpResp, err := c.transfer.Do(httpReq)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		return resp, decodeError(httpResp)
	}
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(RequestIDHeader)}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		apiErr.Code = errResp.Code
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.Message = errResp.Error
		if errResp.RequestID != "" {
			apiErr.RequestID = errResp.RequestID
		}
		return apiErr
	}
	apiErr.Message = fmt.Sprintf("api error: %s", resp.Status)
	return apiErr
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.authToken == "" || req == nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func (c *Client) setAdminHeader(req *http.Request) {
	if c.adminToken == "" || req == nil {
		return
	}
	req.Header.Set(AdminTokenHeader, c.adminToken)
}

func filePath(id int64) string {
	return "/v1/files/" + strconv.FormatInt(id, 10)
}

func httpTimeoutFromEnv() time.Duration {
	value := strings.TrimSpace(os.Getenv(httpTimeoutEnvKey))
	if value == "" {
		return defaultHTTPTimeout
	}

	if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultHTTPTimeout
}
