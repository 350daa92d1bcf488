package httpclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studiowebux/flux/internal/types"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c := New(zap.NewNop(), opts)
	t.Cleanup(c.Close)
	return c
}

func TestDoReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "value", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := newTestClient(t, Options{Concurrency: 1})
	resp, err := client.Do(context.Background(), &types.Request{
		Method:  "GET",
		URL:     srv.URL,
		Headers: []types.Header{{Name: "X-Custom", Value: "value"}},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, []byte(`{"ok":true}`), resp.Body)
	assert.Equal(t, len(`{"ok":true}`), resp.BytesReceived)
}

func TestDoServerErrorIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, Options{Concurrency: 1})
	resp, err := client.Do(context.Background(), &types.Request{Method: "GET", URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestDoTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	client := newTestClient(t, Options{Concurrency: 1, RequestTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := client.Do(context.Background(), &types.Request{Method: "GET", URL: srv.URL})
	elapsed := time.Since(start)

	var terr *types.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindTransportTimeout, terr.Kind)
	assert.Greater(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestDoConnectError(t *testing.T) {
	// Grab a port nothing is listening on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := newTestClient(t, Options{Concurrency: 1, RequestTimeout: 2 * time.Second})
	_, err = client.Do(context.Background(), &types.Request{Method: "GET", URL: "http://" + addr})

	var terr *types.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindConnect, terr.Kind)
}

func TestDoDNSError(t *testing.T) {
	client := newTestClient(t, Options{Concurrency: 1, RequestTimeout: 5 * time.Second})
	_, err := client.Do(context.Background(), &types.Request{
		Method: "GET",
		URL:    "http://host-that-does-not-exist.invalid/",
	})

	var terr *types.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindDNS, terr.Kind)
}

func TestDoMultipartUpload(t *testing.T) {
	payload := make([]byte, 100*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	dir := t.TempDir()
	filePath := filepath.Join(dir, "upload.bin")
	require.NoError(t, os.WriteFile(filePath, payload, 0644))

	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "foo", r.FormValue("name"))

		f, _, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		var buf bytes.Buffer
		_, err = buf.ReadFrom(f)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(payload, buf.Bytes()))

		w.Write([]byte("uploaded"))
	}))
	defer srv.Close()

	client := newTestClient(t, Options{Concurrency: 1})
	resp, err := client.Do(context.Background(), &types.Request{
		Method: "POST",
		URL:    srv.URL,
		// The user-supplied Content-Type must be ignored for multipart
		Headers: []types.Header{{Name: "Content-Type", Value: "application/json"}},
		Parts: []types.Part{
			{Name: "document", Path: filePath},
			{Name: "name", Value: "foo"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, len("uploaded"), resp.BytesReceived)
	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data; boundary="), gotContentType)
}

func TestDoMultipartMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := newTestClient(t, Options{Concurrency: 1})
	_, err := client.Do(context.Background(), &types.Request{
		Method: "POST",
		URL:    srv.URL,
		Parts:  []types.Part{{Name: "document", Path: "/does/not/exist.bin"}},
	})

	var terr *types.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, types.ErrKindIO, terr.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind types.ErrorKind
	}{
		{"dns", &net.DNSError{Err: "no such host"}, types.ErrKindDNS},
		{"deadline", context.DeadlineExceeded, types.ErrKindTransportTimeout},
		{"refused", syscall.ECONNREFUSED, types.ErrKindConnect},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("unreachable")}, types.ErrKindConnect},
		{"other", errors.New("broken pipe"), types.ErrKindIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify(tt.err))
		})
	}
}
