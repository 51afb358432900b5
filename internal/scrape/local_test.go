package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/resilience"
)

var schedulePage = `<html><head><title>2023-24 NBA Schedule</title></head><body>` +
	strings.Repeat(`<table id="schedule"><tr><td>Denver Nuggets</td></tr></table>`, 3) + `</body></html>`

func TestLocalFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(schedulePage))
	}))
	defer srv.Close()

	f := NewLocalFetcher("test-agent")
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "local_http", page.Source)
	assert.Equal(t, 200, page.StatusCode)
	assert.Contains(t, page.HTML, `id="schedule"`)
}

func TestLocalFetcher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  map[string]string
		body    string
		blocked bool
		want    resilience.Outcome
	}{
		{"not_found", 404, nil, "<html><body>Page Not Found (404 error)</body></html>", false, resilience.OutcomeNotFound},
		{"cloudflare", 403, map[string]string{"cf-ray": "abc"}, "denied", true, resilience.OutcomeTransient},
		{"rate_limited", 429, nil, "slow down", true, resilience.OutcomeTransient},
		{"server_error", 502, nil, schedulePage, false, resilience.OutcomeTransient},
		{"empty", 200, nil, "<html></html>", true, resilience.OutcomeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewLocalFetcher("").Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.want, resilience.Classify(err))
			assert.Equal(t, tt.blocked, errorsIs(err, ErrBlocked))
		})
	}
}

func TestLocalFetcher_Name(t *testing.T) {
	assert.Equal(t, "local_http", NewLocalFetcher("").Name())
}
