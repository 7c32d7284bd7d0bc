package ocrclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceledger/pricelistd/internal/pricelisterr"
)

func testClient(serverURL string) *Client {
	return New(Config{
		ServerURL:       serverURL,
		Model:           "test-model",
		Timeout:         2 * time.Second,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   4 * time.Millisecond,
		RetryMaxAttempt: 3,
	})
}

func TestOCR_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(`{"choices":[{"message":{"content":"| a | b |\n|---|---|\n| 1 | 2 |"}}]}`))
	}))
	defer srv.Close()

	md, err := testClient(srv.URL).OCR(context.Background(), []byte("fake-png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Contains(t, md, "| a | b |")
}

func TestOCR_4xxDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).OCR(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Equal(t, pricelisterr.Upstream, pricelisterr.KindOf(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOCR_5xxRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	md, err := testClient(srv.URL).OCR(context.Background(), []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ok", md)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestOCR_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).OCR(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
}

func TestPrompt_SendsTextAndImageParts(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{"choices":[{"message":{"content":"re-ocr'd"}}]}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).Prompt(context.Background(), []byte("img"), "image/png", "transcribe just this table")
	require.NoError(t, err)
	assert.Equal(t, "re-ocr'd", out)
	assert.Contains(t, gotBody, "transcribe just this table")
	assert.Contains(t, gotBody, "image_url")
}

func TestComplete_SendsTextOnly(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{"choices":[{"message":{"content":"YES"}}]}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).Complete(context.Background(), "are these equivalent?")
	require.NoError(t, err)
	assert.Equal(t, "YES", out)
	assert.Contains(t, gotBody, "are these equivalent?")
	assert.NotContains(t, gotBody, "image_url")
}

func TestChat_NoChoicesIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, pricelisterr.Upstream, pricelisterr.KindOf(err))
}
