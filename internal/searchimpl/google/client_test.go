package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/search"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "engine", q.Get("cx"))
		assert.Equal(t, "quiet kettle", q.Get("q"))
		assert.Equal(t, "10", q.Get("num"))
		assert.Equal(t, "uk", q.Get("gl"))
		_, _ = w.Write([]byte(`{"items":[{"title":"Bosch Styline","link":"https://www.bosch-home.co.uk/styline","snippet":"Quiet."}]}`))
	}))
	defer srv.Close()

	c := New("k", "engine", "UK", 0).WithEndpoint(srv.URL)
	results, err := c.Search(context.Background(), "quiet kettle", 50)
	require.NoError(t, err)
	assert.Equal(t, []search.Result{{Title: "Bosch Styline", URL: "https://www.bosch-home.co.uk/styline", Snippet: "Quiet."}}, results)
}

func TestSearchAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Quota exceeded"}}`, true},
		{"bad key", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid"}}`, false},
		{"html outage", http.StatusBadGateway, `<html>bad gateway</html>`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New("k", "cx", "", 0).WithEndpoint(srv.URL).Search(context.Background(), "kettle", 5)
			require.Error(t, err)
			assert.Equal(t, tt.transient, search.IsTransient(err))
		})
	}
}
