package contacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"amocrm-contacts/internal/amocrm"
	"amocrm-contacts/internal/csvfile"
)

// ImportRow is one parsed row of an import file.
type ImportRow struct {
	ID   int64
	Name string
}

// FailedRow is a row that could not be updated.
type FailedRow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportResult summarises an import run.
type ImportResult struct {
	Total      int         `json:"total"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Failed     []FailedRow `json:"failed"`
	ErrorsFile string      `json:"errorsFile"`
}

// CheckImportFile returns an error unless path is an existing regular file.
func CheckImportFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("failed to open import file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("import file %s is a directory", path)
	}
	return nil
}

// ReadImportFile parses an import file. The first row is a header and is ignored.
// Rows with fewer than two fields are skipped; so are rows whose id is not an integer.
// The returned count is the number of skipped rows.
func (m *Manager) ReadImportFile(path string) ([]ImportRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, 0, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	records, err := csvfile.NewReader(f).ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read import file: %w", err)
	}
	if len(records) > 0 {
		records = records[1:]
	}

	var rows []ImportRow
	skipped := 0
	for i, rec := range records {
		if len(rec) < 2 {
			skipped++
			continue
		}

		id, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			m.logger.Warn("skipping row with invalid contact id", "line", i+2, "value", rec[0])
			skipped++
			continue
		}

		// Empty names are sent as-is
		name := rec[1]

		rows = append(rows, ImportRow{ID: id, Name: name})
	}

	return rows, skipped, nil
}

// Import updates the name of every contact listed in path.
// Each contact is fetched first so its first and last name are carried over unchanged.
// API failures are collected per row and written to the errors file; they do not abort
// the run.
func (m *Manager) Import(ctx context.Context, path string) (*ImportResult, error) {
	rows, skipped, err := m.ReadImportFile(path)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Total:      len(rows),
		Skipped:    skipped,
		Failed:     []FailedRow{},
		ErrorsFile: m.errorsFile,
	}
	m.printf("Loaded %d contacts to update (%d rows skipped)", len(rows), skipped)

	for _, row := range rows {
		if err := m.updateName(ctx, row); err != nil {
			if !amocrm.IsAPIError(err) {
				return result, err
			}
			m.printf("Failed to update contact #%d: %v", row.ID, err)
			m.logger.Warn("contact update failed", "id", row.ID, "error", err)
			result.Failed = append(result.Failed, FailedRow{ID: row.ID, Name: row.Name, Error: err.Error()})
			continue
		}

		result.Updated++
		m.printf("Updated contact #%d", row.ID)

		if err := m.sleep(ctx, m.importDelay); err != nil {
			return result, err
		}
	}

	m.printf("Contacts updated: %d", result.Updated)
	m.printf("Errors: %d", len(result.Failed))

	if err := writeErrorsFile(m.errorsFile, result.Failed); err != nil {
		return result, fmt.Errorf("failed to write errors file: %w", err)
	}

	m.logger.Info("import finished",
		"path", path,
		"total", result.Total,
		"updated", result.Updated,
		"failed", len(result.Failed),
		"skipped", result.Skipped,
	)
	return result, nil
}

// updateName fetches the contact, replaces its name and submits it.
func (m *Manager) updateName(ctx context.Context, row ImportRow) error {
	contact, err := m.api.GetOne(ctx, row.ID)
	if err != nil {
		return err
	}

	m.logger.Debug("updating contact",
		"id", row.ID,
		"oldName", contact.Name,
		"newName", row.Name,
		"firstName", contact.FirstName,
		"lastName", contact.LastName,
	)

	updated := amocrm.Contact{
		ID:        contact.ID,
		Name:      row.Name,
		FirstName: contact.FirstName,
		LastName:  contact.LastName,
	}
	if updated.ID == 0 {
		updated.ID = row.ID
	}

	return m.api.Update(ctx, []amocrm.Contact{updated})
}

// writeErrorsFile overwrites path with one id;name row per failure, without a header.
func writeErrorsFile(path string, failed []FailedRow) error {
	rows := make([][]string, 0, len(failed))
	for _, f := range failed {
		rows = append(rows, []string{strconv.FormatInt(f.ID, 10), f.Name})
	}
	return csvfile.Create(path, rows)
}
