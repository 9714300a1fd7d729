// Package commands implements the lumina CLI subcommands. Apart from
// serve, every command is a thin HTTP client of a running server.
package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/jobs"
)

// defaultServer is where a locally started "lumina serve" listens.
const defaultServer = "http://127.0.0.1:8000"

// apiClient wraps the server's JSON API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the server's error payload alongside the status.
type apiError struct {
	Status  int
	Message string
	Details string
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Details)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			apiErr.Details = payload.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) submitJob(jobType, catalogID string, params map[string]interface{}) (*database.Job, error) {
	body := map[string]interface{}{
		"job_type":   jobType,
		"catalog_id": catalogID,
		"parameters": params,
	}
	var job database.Job
	if err := c.do(http.MethodPost, "/api/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) getJob(id string) (*database.Job, error) {
	var job database.Job
	if err := c.do(http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) listJobs(catalogID, status string) ([]database.Job, error) {
	query := url.Values{}
	if catalogID != "" {
		query.Set("catalog_id", catalogID)
	}
	if status != "" {
		query.Set("status", status)
	}
	path := "/api/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out struct {
		Jobs []database.Job `json:"jobs"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *apiClient) cancelJob(id string) (*database.Job, error) {
	var job database.Job
	if err := c.do(http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) progress(id string, limit int) ([]jobs.ProgressEvent, error) {
	path := fmt.Sprintf("/api/jobs/%s/progress?limit=%d", url.PathEscape(id), limit)
	var out struct {
		Events []jobs.ProgressEvent `json:"events"`
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *apiClient) createCatalog(name string, dirs []string) (*database.Catalog, error) {
	body := map[string]interface{}{
		"name":               name,
		"source_directories": dirs,
	}
	var cat database.Catalog
	if err := c.do(http.MethodPost, "/api/catalogs", body, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *apiClient) listCatalogs() ([]database.Catalog, error) {
	var out struct {
		Catalogs []database.Catalog `json:"catalogs"`
	}
	if err := c.do(http.MethodGet, "/api/catalogs", nil, &out); err != nil {
		return nil, err
	}
	return out.Catalogs, nil
}
