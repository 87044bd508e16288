package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finboard-backend/internal/models"
)

// DashboardAPI is the REST collaborator holding the authoritative dashboard
// copies. The sync façade uses it for conflict-resolution fallback and for
// refreshing the local cache when peers create dashboards.
type DashboardAPI interface {
	Get(ctx context.Context, id string) (*models.Dashboard, error)
	List(ctx context.Context) ([]*models.Dashboard, error)
	Create(ctx context.Context, req *models.CreateDashboardRequest) (*models.Dashboard, error)
	Update(ctx context.Context, id string, req *models.UpdateDashboardRequest) (*models.Dashboard, error)
	Delete(ctx context.Context, id string) error
}

// APIClient talks to the dashboard REST service.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) Get(ctx context.Context, id string) (*models.Dashboard, error) {
	var d models.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/v1/dashboards/"+id, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *APIClient) List(ctx context.Context) ([]*models.Dashboard, error) {
	var resp struct {
		Dashboards []*models.Dashboard `json:"dashboards"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/dashboards", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dashboards, nil
}

func (c *APIClient) Create(ctx context.Context, req *models.CreateDashboardRequest) (*models.Dashboard, error) {
	var d models.Dashboard
	if err := c.do(ctx, http.MethodPost, "/api/v1/dashboards", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *APIClient) Update(ctx context.Context, id string, req *models.UpdateDashboardRequest) (*models.Dashboard, error) {
	var d models.Dashboard
	if err := c.do(ctx, http.MethodPut, "/api/v1/dashboards/"+id, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/dashboards/"+id, nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("collab: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collab: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("collab: %s %s: %s (%s)", method, path, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("collab: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
