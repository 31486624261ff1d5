package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExtractor_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.pdf":
			w.WriteHeader(http.StatusNotFound)
		case "/limited.pdf":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/broken.pdf":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("this is not a pdf"))
		}
	}))
	defer srv.Close()

	e := NewPDFExtractor(srv.Client(), nil)
	e.tempDir = t.TempDir()

	tests := []struct {
		path      string
		sentinel  error
		status    int
		retryable bool
	}{
		{"/missing.pdf", ErrHTTP, 404, false},
		{"/limited.pdf", ErrBlocked, 429, true},
		{"/broken.pdf", ErrHTTP, 502, true},
		{"/garbage.pdf", ErrRender, 200, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := e.Extract(context.Background(), srv.URL+tt.path, 5*time.Second)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.retryable, fe.Retryable())
		})
	}
}

func TestPDFExtractor_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	e := NewPDFExtractor(srv.Client(), nil)
	_, err := e.Extract(context.Background(), srv.URL+"/slow.pdf", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
