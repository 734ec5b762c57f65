package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ContactView is the diagnostic representation of a single contact.
// Timestamps are RFC 2822 formatted.
type ContactView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ParseContactID parses a contact id argument.
func ParseContactID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContactID, id)
	}
	return n, nil
}

// GetContactByID fetches one contact. API errors are returned unchanged.
func (m *Manager) GetContactByID(ctx context.Context, id string) (*ContactView, error) {
	contactID, err := ParseContactID(id)
	if err != nil {
		return nil, err
	}

	contact, err := m.api.GetOne(ctx, contactID)
	if err != nil {
		return nil, err
	}

	return &ContactView{
		ID:        contact.ID,
		Name:      contact.Name,
		FirstName: contact.FirstName,
		LastName:  contact.LastName,
		CreatedAt: contact.CreatedTime().In(m.location).Format(time.RFC1123Z),
		UpdatedAt: contact.UpdatedTime().In(m.location).Format(time.RFC1123Z),
	}, nil
}

// WriteJSON writes v as indented JSON without HTML escaping.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
