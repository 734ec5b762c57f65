package amocrm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// MaxPageLimit is the largest page size the contacts endpoint accepts.
	MaxPageLimit = 250

	contactsPath = "/api/v4/contacts"
)

// Contact is an amoCRM contact. Null name fields decode to empty strings.
type Contact struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt int64  `json:"created_at,omitempty"` // unix seconds
	UpdatedAt int64  `json:"updated_at,omitempty"` // unix seconds
}

// CreatedTime returns CreatedAt as a time.Time.
func (c *Contact) CreatedTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

// UpdatedTime returns UpdatedAt as a time.Time.
func (c *Contact) UpdatedTime() time.Time {
	return time.Unix(c.UpdatedAt, 0)
}

// PageFilter is the pagination cursor sent with each list request.
type PageFilter struct {
	Page  int
	Limit int
}

// NewPageFilter returns a filter starting at page with the given limit,
// clamped to 1..MaxPageLimit.
func NewPageFilter(page, limit int) *PageFilter {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return &PageFilter{Page: page, Limit: limit}
}

// NextPage advances the filter to the following page.
func (f *PageFilter) NextPage() {
	f.Page++
}

func (f *PageFilter) values() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(f.Page))
	q.Set("limit", strconv.Itoa(f.Limit))
	return q
}

// contactsResponse is the HAL envelope of the contacts list endpoint.
type contactsResponse struct {
	Page     int `json:"_page"`
	Embedded struct {
		Contacts []Contact `json:"contacts"`
	} `json:"_embedded"`
}

// contactPatch is the update payload; timestamps are server-managed and never sent.
type contactPatch struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ContactsService implements the contacts resource.
type ContactsService struct {
	client *Client
}

// List returns one page of contacts. An empty page is reported by the API as
// 204 No Content and surfaces as an error matching ErrNoContent.
func (s *ContactsService) List(ctx context.Context, filter *PageFilter) ([]Contact, error) {
	if filter == nil {
		filter = NewPageFilter(1, MaxPageLimit)
	}

	var resp contactsResponse
	if err := s.client.doRequest(ctx, http.MethodGet, contactsPath, filter.values(), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Embedded.Contacts, nil
}

// GetOne returns a single contact by id.
func (s *ContactsService) GetOne(ctx context.Context, id int64) (*Contact, error) {
	var contact Contact
	path := fmt.Sprintf("%s/%d", contactsPath, id)
	if err := s.client.doRequest(ctx, http.MethodGet, path, nil, nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// Update submits a batch of contacts. Only id and the name fields are sent.
func (s *ContactsService) Update(ctx context.Context, contacts []Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	patches := make([]contactPatch, 0, len(contacts))
	for _, c := range contacts {
		patches = append(patches, contactPatch{
			ID:        c.ID,
			Name:      c.Name,
			FirstName: c.FirstName,
			LastName:  c.LastName,
		})
	}

	return s.client.doRequest(ctx, http.MethodPatch, contactsPath, nil, patches, nil)
}
