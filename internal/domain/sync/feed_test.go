package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
)

func TestFetchPageFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/offers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api_key"); got != "secret" {
			t.Errorf("api_key = %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "1" {
			t.Errorf("page = %q", got)
		}
		w.Write([]byte(`{
			"result": [
				{"inner_id": 1, "brand": "Toyota", "model": "Camry"},
				{"inner_id": "2", "change_type": "removed"},
				{"inner_id": 3, "change_type": "changed", "delta": {"price": 100}},
				{"inner_id": 4, "change_type": "teleported"},
				{"change_type": "removed"}
			],
			"meta": {"next_page": 2}
		}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	events, next, err := client.FetchPage(context.Background(), Cursor{Page: 1})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if len(events) != 5 {
		t.Fatalf("events = %d, want 5", len(events))
	}
	if events[0].Type != models.ChangeAdded || events[0].InnerID != "1" || events[0].Payload == nil {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Type != models.ChangeRemoved || events[1].InnerID != "2" {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].Type != models.ChangeChanged || events[2].Delta == nil || *events[2].Delta.Price != 100 {
		t.Errorf("event 2 = %+v", events[2])
	}
	// неизвестный change_type и элемент без inner_id — локальные ошибки
	if events[3].Err == nil || events[4].Err == nil {
		t.Errorf("malformed items must carry Err: %+v, %+v", events[3], events[4])
	}

	if next == nil || next.Page != 2 {
		t.Fatalf("next = %+v, want page 2", next)
	}
}

func TestFetchPageAlphanumericIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"result": [
				{"inner_id": "abc-123", "brand": "Toyota", "model": "Camry"},
				{"inner_id": "9f1c4e02-5b7d-4a31-8c6e-2d9a0b7f41e5", "change_type": "removed"}
			],
			"meta": {}
		}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	events, _, err := client.FetchPage(context.Background(), Cursor{Page: 1})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	// идентификатор вендора — непрозрачная строка, не обязательно число
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Err != nil || events[0].Type != models.ChangeAdded || events[0].InnerID != "abc-123" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Err != nil || events[1].Type != models.ChangeRemoved || events[1].InnerID != "9f1c4e02-5b7d-4a31-8c6e-2d9a0b7f41e5" {
		t.Errorf("event 1 = %+v", events[1])
	}
}

func TestFetchPageLastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": [], "meta": {}}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	events, next, err := client.FetchPage(context.Background(), Cursor{Page: 9})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(events) != 0 || next != nil {
		t.Fatalf("events = %d, next = %+v, want empty terminal page", len(events), next)
	}
}

func TestFetchPageIncrementalCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since := r.URL.Query().Get("since")
		switch since {
		case "ref-1":
			w.Write([]byte(`{"result": [], "meta": {"next_since": "ref-2"}}`))
		case "ref-2":
			// лента догнана: вендор вернул ту же точку
			w.Write([]byte(`{"result": [], "meta": {"next_since": "ref-2"}}`))
		default:
			t.Errorf("unexpected since = %q", since)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)

	_, next, err := client.FetchPage(context.Background(), Cursor{Since: "ref-1"})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if next == nil || next.Since != "ref-2" {
		t.Fatalf("next = %+v, want since ref-2", next)
	}

	_, next, err = client.FetchPage(context.Background(), *next)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if next != nil {
		t.Fatalf("repeated reference must end the feed, got %+v", next)
	}
}

func TestFetchPageFilterPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filter"); got != "brand:toyota" {
			t.Errorf("filter = %q", got)
		}
		w.Write([]byte(`{"result": [], "meta": {"next_page": 2}}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	_, next, err := client.FetchPage(context.Background(), Cursor{Page: 1, Filter: "brand:toyota"})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if next == nil || next.Filter != "brand:toyota" {
		t.Fatalf("filter must carry over to the next cursor, got %+v", next)
	}
}

func TestFetchPageErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: ErrRateLimited,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: ErrTransport,
		},
		{
			name: "broken envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"result": [`))
			},
			want: ErrMalformedEnvelope,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := NewFeedClient(srv.URL, "secret", time.Second)
			_, _, err := client.FetchPage(context.Background(), Cursor{Page: 1})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !IsFatalFeedErr(err) {
				t.Fatalf("err %v must be fatal for the run", err)
			}
		})
	}
}

func TestResolveReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/offers/reference" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "2024-03-09" {
			t.Errorf("date = %q", got)
		}
		w.Write([]byte(`{"reference": "ref-42"}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	date, _ := time.Parse(time.RFC3339, "2024-03-09T15:00:00Z")

	ref, err := client.ResolveReference(context.Background(), date)
	if err != nil {
		t.Fatalf("ResolveReference: %v", err)
	}
	if ref != "ref-42" {
		t.Fatalf("ref = %q", ref)
	}
}

func TestResolveReferenceEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reference": ""}`))
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "secret", time.Second)
	_, err := client.ResolveReference(context.Background(), time.Now())
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("empty reference must be malformed, got %v", err)
	}
}
