package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osawatch/osawatch/pkg/domain"
)

// listingServer serves a synthetic paginated files listing of total items,
// records every requested offset and optionally delays pages to scramble
// completion order.
func listingServer(t *testing.T, total, pageSize int, delays map[int]time.Duration) (*httptest.Server, func() []int) {
	t.Helper()

	var mu sync.Mutex
	var offsets []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/files", r.URL.Path)
		assert.Equal(t, "file_download", r.URL.Query().Get("type"))

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)
		assert.Equal(t, pageSize, limit)

		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()

		if d, ok := delays[offset]; ok {
			time.Sleep(d)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalFiles":`+strconv.Itoa(total)+`,"filesList":[`)
		for i := offset; i < offset+limit && i < total; i++ {
			if i > offset {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"key":"/file/%d","content":{"post_title":"archive %d"}}`, i, i)
		}
		fmt.Fprint(w, `]}`)
	}))

	requested := func() []int {
		mu.Lock()
		defer mu.Unlock()
		res := make([]int, len(offsets))
		copy(res, offsets)
		return res
	}
	return srv, requested
}

func TestClient_FetchAll(t *testing.T) {
	t.Run("three pages in offset order", func(t *testing.T) {
		// delay the middle page so pages complete out of order
		srv, requested := listingServer(t, 250, 100, map[int]time.Duration{100: 50 * time.Millisecond})
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 100, MaxConcurrent: 10})
		items, err := client.FetchAll(context.Background())
		require.NoError(t, err)
		require.Len(t, items, 250)

		assert.ElementsMatch(t, []int{0, 100, 200}, requested())

		// assembled in offset order regardless of completion order
		for i, item := range items {
			assert.Equal(t, fmt.Sprintf("archive %d", i), item.Title)
			assert.Equal(t, fmt.Sprintf("%s/file/%d", srv.URL, i), item.URL)
		}
	})

	t.Run("single page", func(t *testing.T) {
		srv, requested := listingServer(t, 42, 100, nil)
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 100, MaxConcurrent: 10})
		items, err := client.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 42)
		assert.Equal(t, []int{0}, requested())
	})

	t.Run("empty listing", func(t *testing.T) {
		srv, requested := listingServer(t, 0, 100, nil)
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 100, MaxConcurrent: 10})
		items, err := client.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, []int{0}, requested())
	})

	t.Run("exact page boundary", func(t *testing.T) {
		// 200 items with page size 100 needs offsets 0 and 100, not 200
		srv, requested := listingServer(t, 200, 100, nil)
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 100, MaxConcurrent: 10})
		items, err := client.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 200)
		assert.ElementsMatch(t, []int{0, 100}, requested())
	})

	t.Run("non-200 on first page is fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test"})
		items, err := client.FetchAll(context.Background())
		require.Error(t, err)
		assert.Nil(t, items)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("non-200 on later page aborts whole fetch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			if offset >= 100 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"totalFiles":250,"filesList":[{"key":"/a","content":{"post_title":"a"}}]}`)
		}))
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 100, MaxConcurrent: 2})
		items, err := client.FetchAll(context.Background())
		require.Error(t, err)
		assert.Nil(t, items)
		assert.Contains(t, err.Error(), "status 502")
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not json")
		}))
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test"})
		_, err := client.FetchAll(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode page")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer srv.Close()

		client := NewClient(Params{BaseURL: srv.URL, Tags: "test", Timeout: 10 * time.Millisecond})
		_, err := client.FetchAll(context.Background())
		require.Error(t, err)
	})
}

func TestClient_FetchAll_ConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > 0 { // only concurrent pages count against the gate
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalFiles":100,"filesList":[{"key":"/x","content":{"post_title":"x"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(Params{BaseURL: srv.URL, Tags: "test", PageSize: 10, MaxConcurrent: 3})
	items, err := client.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 10) // one record per page in this synthetic listing

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 3)
	assert.Positive(t, maxInFlight)
}

func TestClient_Normalize(t *testing.T) {
	client := NewClient(Params{BaseURL: "https://developer.sony.com", Tags: "test"})

	tests := []struct {
		name  string
		key   string
		title string
		want  domain.Item
	}{
		{
			name:  "complete record",
			key:   "/file/download/abc",
			title: "Open source archive 1.0",
			want:  domain.Item{Title: "Open source archive 1.0", URL: "https://developer.sony.com/file/download/abc"},
		},
		{
			name: "missing title",
			key:  "/file/download/abc",
			want: domain.Item{URL: "https://developer.sony.com/file/download/abc"},
		},
		{
			name:  "missing key yields empty url",
			title: "Orphan title",
			want:  domain.Item{Title: "Orphan title"},
		},
		{
			name: "empty record",
			want: domain.Item{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fileRecord{Key: tt.key}
			rec.Content.PostTitle = tt.title
			assert.Equal(t, tt.want, client.normalize(rec))
		})
	}
}
