// Package contacts implements the contact sync workflows: CSV export,
// CSV import of name updates, and single-contact lookup.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"amocrm-contacts/internal/amocrm"
)

// Workflow errors
var (
	// ErrFileNotFound indicates the import file does not exist
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidContactID indicates a contact id that is not an integer
	ErrInvalidContactID = errors.New("invalid contact id")

	// ErrPageLimitExceeded indicates the listing still had contacts after MaxPages pages
	ErrPageLimitExceeded = errors.New("page limit exceeded")
)

const (
	// DefaultPageSize is the number of contacts requested per page.
	DefaultPageSize = amocrm.MaxPageLimit
	// DefaultMaxPages bounds a single export run.
	DefaultMaxPages = 10000
	// DefaultImportDelay is the pause after each successful update.
	DefaultImportDelay = 200 * time.Millisecond
	// DefaultErrorsFile receives rows that failed to import.
	DefaultErrorsFile = "errors.csv"
)

// ContactsAPI is the subset of the amoCRM contacts resource used by the workflows.
// *amocrm.ContactsService implements it.
type ContactsAPI interface {
	List(ctx context.Context, filter *amocrm.PageFilter) ([]amocrm.Contact, error)
	GetOne(ctx context.Context, id int64) (*amocrm.Contact, error)
	Update(ctx context.Context, contacts []amocrm.Contact) error
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	PageSize    int
	MaxPages    int
	ImportDelay time.Duration // negative disables the pause
	ErrorsFile  string
	Location    *time.Location // timezone for formatted timestamps
	Out         io.Writer      // progress lines; nil discards
	Logger      *slog.Logger
}

// Manager runs the sync workflows against a ContactsAPI.
type Manager struct {
	api         ContactsAPI
	pageSize    int
	maxPages    int
	importDelay time.Duration
	errorsFile  string
	location    *time.Location
	out         io.Writer
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager.
func NewManager(api ContactsAPI, opts Options) *Manager {
	m := &Manager{
		api:         api,
		pageSize:    opts.PageSize,
		maxPages:    opts.MaxPages,
		importDelay: opts.ImportDelay,
		errorsFile:  opts.ErrorsFile,
		location:    opts.Location,
		out:         opts.Out,
		logger:      opts.Logger,
		sleep:       sleepContext,
	}

	if m.pageSize <= 0 || m.pageSize > amocrm.MaxPageLimit {
		m.pageSize = DefaultPageSize
	}
	if m.maxPages <= 0 {
		m.maxPages = DefaultMaxPages
	}
	if m.importDelay == 0 {
		m.importDelay = DefaultImportDelay
	} else if m.importDelay < 0 {
		m.importDelay = 0
	}
	if m.errorsFile == "" {
		m.errorsFile = DefaultErrorsFile
	}
	if m.location == nil {
		m.location = time.Local
	}
	if m.out == nil {
		m.out = io.Discard
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	return m
}

// ErrorsFile returns the path the import failure report is written to.
func (m *Manager) ErrorsFile() string {
	return m.errorsFile
}

// WithErrorsFile returns a copy of m that writes import failures to path.
// An empty path returns m unchanged.
func (m *Manager) WithErrorsFile(path string) *Manager {
	if path == "" {
		return m
	}
	c := *m
	c.errorsFile = path
	return &c
}

// WithOutput returns a copy of m that prints progress lines to w.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	if w == nil {
		w = io.Discard
	}
	c := *m
	c.out = w
	return &c
}

func (m *Manager) printf(format string, args ...any) {
	fmt.Fprintf(m.out, format+"\n", args...)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
