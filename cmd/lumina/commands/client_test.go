package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer fakes the lumina API and records the last request.
type stubServer struct {
	*httptest.Server
	lastMethod string
	lastPath   string
	lastQuery  string
	lastBody   map[string]interface{}
}

func newStubServer(t *testing.T, status int, response interface{}) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastMethod = r.Method
		s.lastPath = r.URL.Path
		s.lastQuery = r.URL.RawQuery
		s.lastBody = nil
		if r.Body != nil {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				s.lastBody = body
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != nil {
			json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestSubmitJobRequestShape(t *testing.T) {
	stub := newStubServer(t, http.StatusAccepted, map[string]interface{}{
		"id":       "job-1",
		"job_type": "scan",
		"status":   "pending",
	})

	client := newAPIClient(stub.URL)
	job, err := client.submitJob("scan", "cat-1", map[string]interface{}{"generate_thumbnail": true})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, stub.lastMethod)
	assert.Equal(t, "/api/jobs", stub.lastPath)
	assert.Equal(t, "scan", stub.lastBody["job_type"])
	assert.Equal(t, "cat-1", stub.lastBody["catalog_id"])
	params := stub.lastBody["parameters"].(map[string]interface{})
	assert.Equal(t, true, params["generate_thumbnail"])

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "scan", job.JobType)
}

func TestListJobsQueryParameters(t *testing.T) {
	stub := newStubServer(t, http.StatusOK, map[string]interface{}{
		"jobs": []map[string]interface{}{
			{"id": "job-1", "job_type": "scan", "status": "success"},
			{"id": "job-2", "job_type": "auto_tag", "status": "failed"},
		},
		"count": 2,
	})

	client := newAPIClient(stub.URL)
	list, err := client.listJobs("cat-1", "success")
	require.NoError(t, err)

	assert.Equal(t, "/api/jobs", stub.lastPath)
	assert.Contains(t, stub.lastQuery, "catalog_id=cat-1")
	assert.Contains(t, stub.lastQuery, "status=success")
	require.Len(t, list, 2)
	assert.Equal(t, "job-1", list[0].ID)
}

func TestCancelJobPath(t *testing.T) {
	stub := newStubServer(t, http.StatusOK, map[string]interface{}{
		"id":     "job-1",
		"status": "cancelled",
	})

	client := newAPIClient(stub.URL)
	job, err := client.cancelJob("job-1")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, stub.lastMethod)
	assert.Equal(t, "/api/jobs/job-1/cancel", stub.lastPath)
	assert.Equal(t, "cancelled", job.Status)
}

func TestProgressDecoding(t *testing.T) {
	stub := newStubServer(t, http.StatusOK, map[string]interface{}{
		"job_id": "job-1",
		"events": []map[string]interface{}{
			{
				"job_id":            "job-1",
				"phase":             "processing",
				"processed":         40,
				"total":             100,
				"rate_per_sec_ewma": 8.5,
				"eta_seconds":       7.1,
			},
		},
	})

	client := newAPIClient(stub.URL)
	events, err := client.progress("job-1", 1)
	require.NoError(t, err)

	assert.Equal(t, "/api/jobs/job-1/progress", stub.lastPath)
	assert.Contains(t, stub.lastQuery, "limit=1")
	require.Len(t, events, 1)
	assert.Equal(t, "processing", events[0].Phase)
	assert.EqualValues(t, 40, events[0].Processed)
	assert.InDelta(t, 8.5, events[0].RatePerSec, 0.001)
}

func TestAPIErrorCarriesServerMessage(t *testing.T) {
	stub := newStubServer(t, http.StatusNotFound, map[string]interface{}{
		"error": "Job not found",
	})

	client := newAPIClient(stub.URL)
	_, err := client.getJob("missing")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Job not found", apiErr.Message)
	assert.Contains(t, err.Error(), "Job not found")
}

func TestCreateCatalogRequestShape(t *testing.T) {
	stub := newStubServer(t, http.StatusCreated, map[string]interface{}{
		"id":   "cat-1",
		"name": "holidays",
	})

	client := newAPIClient(stub.URL)
	cat, err := client.createCatalog("holidays", []string{"/photos/holidays"})
	require.NoError(t, err)

	assert.Equal(t, "/api/catalogs", stub.lastPath)
	assert.Equal(t, "holidays", stub.lastBody["name"])
	dirs := stub.lastBody["source_directories"].([]interface{})
	require.Len(t, dirs, 1)
	assert.Equal(t, "/photos/holidays", dirs[0])
	assert.Equal(t, "cat-1", cat.ID)
}
