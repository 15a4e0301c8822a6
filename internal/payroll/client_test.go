package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/staffsync/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIToken: "test-token"}, opts...)
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestListEmployeesConsumesAllPages(t *testing.T) {
	// Total only appears on the first page; later pages report zero, the way
	// the external listing actually behaves.
	all := make([]EmployeeSummary, 5)
	for i := range all {
		all[i] = EmployeeSummary{ID: fmt.Sprintf("emp-%d", i+1), FullName: fmt.Sprintf("Employee %d", i+1)}
	}

	var pagesServed []int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		pagesServed = append(pagesServed, page)

		start := (page - 1) * 2
		end := start + 2
		if start > len(all) {
			start = len(all)
		}
		if end > len(all) {
			end = len(all)
		}
		resp := listPage{Employees: all[start:end], Page: page, PageSize: 2}
		if page == 1 {
			resp.Total = len(all)
		}
		json.NewEncoder(w).Encode(resp)
	})

	client := newTestClient(t, handler, WithPageSize(2))
	employees, err := client.ListEmployees(context.Background())
	if err != nil {
		t.Fatalf("list employees failed: %v", err)
	}
	if len(employees) != 5 {
		t.Fatalf("expected 5 employees, got %d", len(employees))
	}
	if employees[4].ID != "emp-5" {
		t.Fatalf("expected last employee emp-5, got %s", employees[4].ID)
	}
	if len(pagesServed) != 3 {
		t.Fatalf("expected 3 page requests, got %v", pagesServed)
	}
}

func TestListFirstPageStopsAfterOnePage(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(listPage{
			Employees: []EmployeeSummary{{ID: "emp-1"}, {ID: "emp-2"}},
			Total:     50,
			Page:      1,
			PageSize:  2,
		})
	})

	client := newTestClient(t, handler, WithPageSize(2))
	employees, err := client.ListFirstPage(context.Background())
	if err != nil {
		t.Fatalf("first page failed: %v", err)
	}
	if len(employees) != 2 {
		t.Fatalf("expected 2 employees, got %d", len(employees))
	}
	if requests != 1 {
		t.Fatalf("expected a single request, got %d", requests)
	}
}

func TestFetchEndpointReturnsPayload(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/employees/emp-42/employment" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"hourly_wage": 16.28})
	})

	client := newTestClient(t, handler)
	payload, err := client.FetchEndpoint(context.Background(), "emp-42", domain.EndpointEmployment)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if payload["hourly_wage"] != 16.28 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestFetchEndpointClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrForbidden},
	}
	for _, tt := range tests {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		client := newTestClient(t, handler)
		_, err := client.FetchEndpoint(context.Background(), "emp-1", domain.EndpointProfile)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.wantErr, err)
		}
	}
}

func TestFetchEndpointServerErrorIsRetryable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := newTestClient(t, handler)
	_, err := client.FetchEndpoint(context.Background(), "emp-1", domain.EndpointProfile)
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	if !Retryable(err) {
		t.Fatalf("5xx responses must be retryable, got %v", err)
	}
}
