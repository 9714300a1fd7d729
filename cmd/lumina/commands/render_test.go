package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/irjudson/lumina/internal/database"
)

func TestRenderJobsTable(t *testing.T) {
	catalogID := "cat-1"
	now := time.Now()
	list := []database.Job{
		{ID: "job-1", JobType: "scan", Status: "success", CatalogID: &catalogID, CreatedAt: now, CompletedAt: &now},
		{ID: "job-2", JobType: "detect_bursts", Status: "running", CreatedAt: now},
	}

	var buf bytes.Buffer
	renderJobsTable(&buf, list)
	out := buf.String()

	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "scan")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "job-2")
	assert.Contains(t, out, "detect_bursts")
	assert.Contains(t, out, "cat-1")
}

func TestRenderJobDetailIncludesResultAndError(t *testing.T) {
	errMsg := "finalize blew up"
	job := &database.Job{
		ID:        "job-9",
		JobType:   "scan",
		Status:    "failed",
		CreatedAt: time.Now(),
		Error:     &errMsg,
		Result: database.JSONMap{
			"total_files":      float64(1234),
			"total_size_bytes": float64(2 * 1024 * 1024),
		},
	}

	var buf bytes.Buffer
	renderJobDetail(&buf, job)
	out := buf.String()

	assert.Contains(t, out, "job-9")
	assert.Contains(t, out, "finalize blew up")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "MB")
}

func TestRenderCatalogsTable(t *testing.T) {
	list := []database.Catalog{
		{
			ID:                "cat-1",
			Name:              "holidays",
			SourceDirectories: database.StringList{"/photos/2023", "/photos/2024"},
			CreatedAt:         time.Now(),
		},
	}

	var buf bytes.Buffer
	renderCatalogsTable(&buf, list)
	out := buf.String()

	assert.Contains(t, out, "holidays")
	assert.Contains(t, out, "/photos/2023, /photos/2024")
}

func TestFormatResultValue(t *testing.T) {
	assert.Equal(t, "1,234", formatResultValue("total_files", float64(1234)))
	assert.Equal(t, "87.50", formatResultValue("mean_score", 87.5))
	assert.Equal(t, "ok", formatResultValue("note", "ok"))

	bytesOut := formatResultValue("total_size_bytes", float64(1500000))
	assert.Contains(t, bytesOut, "MB")
}
