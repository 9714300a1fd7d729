package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/irjudson/lumina/internal/database"
)

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	return tbl
}

func renderJobsTable(w io.Writer, list []database.Job) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"ID", "Type", "Status", "Catalog", "Created", "Completed"})
	for _, job := range list {
		catalogID := ""
		if job.CatalogID != nil {
			catalogID = *job.CatalogID
		}
		completed := ""
		if job.CompletedAt != nil {
			completed = humanize.Time(*job.CompletedAt)
		}
		tbl.AppendRow(table.Row{
			job.ID,
			job.JobType,
			job.Status,
			catalogID,
			humanize.Time(job.CreatedAt),
			completed,
		})
	}
	tbl.Render()
}

func renderJobDetail(w io.Writer, job *database.Job) {
	tbl := newTable(w)
	tbl.AppendRow(table.Row{"ID", job.ID})
	tbl.AppendRow(table.Row{"Type", job.JobType})
	tbl.AppendRow(table.Row{"Status", job.Status})
	if job.CatalogID != nil {
		tbl.AppendRow(table.Row{"Catalog", *job.CatalogID})
	}
	tbl.AppendRow(table.Row{"Created", fmt.Sprintf("%s (%s)", job.CreatedAt.Format(time.RFC3339), humanize.Time(job.CreatedAt))})
	if job.CompletedAt != nil {
		tbl.AppendRow(table.Row{"Completed", fmt.Sprintf("%s (%s)", job.CompletedAt.Format(time.RFC3339), humanize.Time(*job.CompletedAt))})
	}
	if job.Error != nil {
		tbl.AppendRow(table.Row{"Error", *job.Error})
	}
	for _, key := range sortedKeys(job.Result) {
		tbl.AppendRow(table.Row{"Result: " + key, formatResultValue(key, job.Result[key])})
	}
	tbl.Render()
}

func renderCatalogsTable(w io.Writer, list []database.Catalog) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"ID", "Name", "Source Directories", "Created"})
	for _, cat := range list {
		dirs := ""
		for i, dir := range cat.SourceDirectories {
			if i > 0 {
				dirs += ", "
			}
			dirs += dir
		}
		tbl.AppendRow(table.Row{cat.ID, cat.Name, dirs, humanize.Time(cat.CreatedAt)})
	}
	tbl.Render()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// formatResultValue renders one job result entry. Byte totals get a
// human-readable size, other numbers a thousands separator.
func formatResultValue(key string, value interface{}) string {
	if f, ok := value.(float64); ok {
		if f == float64(int64(f)) {
			if isByteKey(key) {
				return humanize.Bytes(uint64(int64(f)))
			}
			return humanize.Comma(int64(f))
		}
		return fmt.Sprintf("%.2f", f)
	}
	return fmt.Sprintf("%v", value)
}

func isByteKey(key string) bool {
	return len(key) > 6 && key[len(key)-6:] == "_bytes"
}
