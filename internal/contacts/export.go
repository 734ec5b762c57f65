package contacts

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"amocrm-contacts/internal/amocrm"
	"amocrm-contacts/internal/csvfile"
)

// ExportHeader is the header row of an export file.
var ExportHeader = []string{"contact_id", "name", "last_name", "first_name"}

// ExportResult summarises an export run.
type ExportResult struct {
	Path     string `json:"path"`
	Pages    int    `json:"pages"`
	Contacts int    `json:"contacts"`
}

// Export writes every contact to path, one page at a time.
// The file is truncated and given a header first; each page is appended as it arrives,
// so an aborted run leaves the rows fetched so far on disk.
func (m *Manager) Export(ctx context.Context, path string) (*ExportResult, error) {
	result := &ExportResult{Path: path}

	m.printf("Starting contacts export...")

	if err := csvfile.Create(path, [][]string{ExportHeader}); err != nil {
		return result, fmt.Errorf("failed to create export file: %w", err)
	}

	filter := amocrm.NewPageFilter(1, m.pageSize)
	m.printf("Page filter: page %d, limit %d", filter.Page, filter.Limit)

	for {
		m.printf("Requesting page %d...", filter.Page)
		page, err := m.api.List(ctx, filter)
		if errors.Is(err, amocrm.ErrNoContent) {
			m.printf("Page %d is empty, finishing", filter.Page)
			break
		}
		if err != nil {
			m.logger.Error("export failed", "page", filter.Page, "error", err)
			return result, fmt.Errorf("failed to fetch page %d: %w", filter.Page, err)
		}

		count := len(page)
		m.printf("Received contacts: %d", count)
		if count == 0 {
			m.printf("Page %d is empty, finishing", filter.Page)
			break
		}

		// A non-empty page past the bound means the listing did not end in time
		if result.Pages >= m.maxPages {
			m.logger.Error("export page limit exceeded", "page", filter.Page, "maxPages", m.maxPages)
			return result, fmt.Errorf("%w: more than %d pages", ErrPageLimitExceeded, m.maxPages)
		}

		if err := csvfile.Append(path, exportRows(page)); err != nil {
			return result, fmt.Errorf("failed to write page %d: %w", filter.Page, err)
		}
		result.Pages++
		result.Contacts += count
		m.logger.Debug("page exported", "page", filter.Page, "contacts", count)
		m.printf("Written to file: %d", count)

		if count < filter.Limit {
			m.printf("Reached the end of the contact list (received fewer than requested)")
			break
		}

		filter.NextPage()
	}

	m.printf("Export finished. File saved: %s", path)
	m.logger.Info("export finished", "path", path, "pages", result.Pages, "contacts", result.Contacts)
	return result, nil
}

// exportRows maps contacts to export rows: id, name, last_name, first_name.
func exportRows(page []amocrm.Contact) [][]string {
	rows := make([][]string, 0, len(page))
	for _, c := range page {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.Name,
			c.LastName,
			c.FirstName,
		})
	}
	return rows
}
