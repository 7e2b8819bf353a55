package ipfs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/cat", r.URL.Path)
		assert.Equal(t, "bafkreiexample", r.URL.Query().Get("arg"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "a,b,label\n1,2,0\n")
	}))
	defer srv.Close()

	svc := New(Config{APIEndpoint: srv.URL})
	rc, err := svc.Cat(context.Background(), "/ipfs/bafkreiexample")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a,b,label\n1,2,0\n", string(data))
}

func TestCatEmptyCID(t *testing.T) {
	svc := New(Config{APIEndpoint: "localhost:1"})
	_, err := svc.Cat(context.Background(), "  ")
	assert.Error(t, err)
}

func TestCatNodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"Message":"block not found","Code":0,"Type":"error"}`)
	}))
	defer srv.Close()

	svc := New(Config{APIEndpoint: srv.URL})
	_, err := svc.Cat(context.Background(), "bafkreimissing")
	assert.ErrorContains(t, err, "block not found")
}

func TestPublishJSON(t *testing.T) {
	var added bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v0/version":
			_, _ = io.WriteString(w, `{"Version":"0.20.0"}`)
		case "/api/v0/add":
			added = true
			assert.Equal(t, "true", r.URL.Query().Get("pin"))
			_, _ = io.WriteString(w, `{"Name":"bafkreiresult","Hash":"bafkreiresult","Size":"12"}`)
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc := New(Config{APIEndpoint: srv.URL})
	cid, err := svc.PublishJSON(map[string]float64{"best_accuracy": 0.9})
	require.NoError(t, err)
	assert.Equal(t, "bafkreiresult", cid)
	assert.True(t, added)
}
