package amocrm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), nil)
	c.retryDelay = time.Millisecond
	return c
}

func TestBaseURLForDomain(t *testing.T) {
	tests := []struct {
		domain   string
		expected string
	}{
		{"example.amocrm.ru", "https://example.amocrm.ru"},
		{" example.amocrm.ru/ ", "https://example.amocrm.ru"},
		{"https://example.kommo.com", "https://example.kommo.com"},
		{"http://127.0.0.1:8080/", "http://127.0.0.1:8080"},
	}

	for _, tc := range tests {
		t.Run(tc.domain, func(t *testing.T) {
			if got := BaseURLForDomain(tc.domain); got != tc.expected {
				t.Errorf("BaseURLForDomain(%q) = %q, want %q", tc.domain, got, tc.expected)
			}
		})
	}
}

func TestNewPageFilter(t *testing.T) {
	tests := []struct {
		name          string
		page, limit   int
		expectedPage  int
		expectedLimit int
	}{
		{"defaults kept", 1, 250, 1, 250},
		{"small limit", 3, 50, 3, 50},
		{"zero page", 0, 10, 1, 10},
		{"limit above max", 1, 500, 1, MaxPageLimit},
		{"zero limit", 1, 0, 1, MaxPageLimit},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewPageFilter(tc.page, tc.limit)
			if f.Page != tc.expectedPage || f.Limit != tc.expectedLimit {
				t.Errorf("NewPageFilter(%d, %d) = %+v, want page=%d limit=%d",
					tc.page, tc.limit, f, tc.expectedPage, tc.expectedLimit)
			}
		})
	}

	f := NewPageFilter(1, 10)
	f.NextPage()
	f.NextPage()
	if f.Page != 3 {
		t.Errorf("Page after two NextPage() = %d, want 3", f.Page)
	}
}

func TestContactsList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v4/contacts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		w.Header().Set("Content-Type", "application/hal+json")
		io.WriteString(w, `{"_page":2,"_embedded":{"contacts":[
			{"id":1,"name":"Anna Smith","first_name":"","last_name":"Smith","created_at":1700000000,"updated_at":1700000100},
			{"id":2,"name":"John","first_name":"John","last_name":null}
		]}}`)
	})

	contacts, err := c.Contacts().List(context.Background(), NewPageFilter(2, 50))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}
	if contacts[0].ID != 1 || contacts[0].LastName != "Smith" || contacts[0].CreatedAt != 1700000000 {
		t.Errorf("contacts[0] = %+v", contacts[0])
	}
	if contacts[1].LastName != "" {
		t.Errorf("null last_name should decode to empty string, got %q", contacts[1].LastName)
	}
}

func TestContactsList_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.Contacts().List(context.Background(), NewPageFilter(5, 250))
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("List() error = %v, want ErrNoContent", err)
	}
	if !IsAPIError(err) {
		t.Errorf("no-content error should also be an *APIError")
	}
}

func TestContactsGetOne(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/contacts/42" {
			t.Errorf("path = %q, want /api/v4/contacts/42", r.URL.Path)
		}
		io.WriteString(w, `{"id":42,"name":"Иван Петров","first_name":"Иван","last_name":"Петров","created_at":1,"updated_at":2}`)
	})

	contact, err := c.Contacts().GetOne(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if contact.Name != "Иван Петров" || contact.FirstName != "Иван" || contact.UpdatedAt != 2 {
		t.Errorf("GetOne() = %+v", contact)
	}
}

func TestContactsUpdate(t *testing.T) {
	var got []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v4/contacts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, `{"_embedded":{"contacts":[{"id":7,"updated_at":1700000000}]}}`)
	})

	err := c.Contacts().Update(context.Background(), []Contact{
		{ID: 7, Name: "New Name", FirstName: "New", LastName: "", CreatedAt: 5, UpdatedAt: 6},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("payload length = %d, want 1", len(got))
	}
	if got[0]["id"] != float64(7) || got[0]["name"] != "New Name" || got[0]["first_name"] != "New" {
		t.Errorf("payload = %v", got[0])
	}
	if _, ok := got[0]["last_name"]; !ok {
		t.Errorf("last_name must be sent even when empty")
	}
	if _, ok := got[0]["updated_at"]; ok {
		t.Errorf("updated_at must not be sent")
	}
}

func TestContactsUpdate_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for empty update")
	})

	if err := c.Contacts().Update(context.Background(), nil); err != nil {
		t.Errorf("Update(nil) error = %v", err)
	}
}

func TestAPIError_ProblemJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"title":"Bad Request","type":"https://httpstatus.es/400","status":400,"detail":"Request validation failed",
			"validation-errors":[{"request_id":"0","errors":[{"code":"NotSupportedChoice","path":"name","detail":"bad"}]}]}`)
	})

	err := c.Contacts().Update(context.Background(), []Contact{{ID: 1}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Title != "Bad Request" {
		t.Errorf("Title = %q", apiErr.Title)
	}
	if apiErr.Detail != "Request validation failed name: bad" {
		t.Errorf("Detail = %q", apiErr.Detail)
	}
}

func TestAPIError_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"title":"Unauthorized","status":401}`)
	})

	_, err := c.Contacts().GetOne(context.Background(), 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"id":1,"name":"ok"}`)
	})

	contact, err := c.Contacts().GetOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if contact.Name != "ok" {
		t.Errorf("Name = %q, want ok", contact.Name)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoRequest_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Contacts().GetOne(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want 429 APIError", err)
	}
	if calls.Load() != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries+1)
	}
}

func TestDoRequest_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, nil, nil)
	_, err := c.Contacts().GetOne(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 0 || apiErr.Err == nil {
		t.Errorf("transport APIError = %+v", apiErr)
	}
}

func TestDoRequest_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected with cancelled context")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Contacts().GetOne(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if IsAPIError(err) {
		t.Errorf("cancellation must not be reported as an API error")
	}
}
