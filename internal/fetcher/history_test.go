package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestHTTPHistorySuccess(t *testing.T) {
	var gotQuery string
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[[1577836800000,10.5],[1577923200000,0],[1578009600000,null]]}`))
	}))
	defer srv.Close()

	h := NewHTTPHistory(HistoryOptions{
		URLTemplate: srv.URL + "/hist?period=1440&from={from}&to={to}&endeks={code}",
		From:        "20200101000000",
		To:          "20251231235959",
		Timeout:     time.Second,
		UserAgent:   "test-agent",
	}, noopLogger())

	samples, err := h.FetchHistory(context.Background(), "THYAO")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotQuery != "period=1440&from=20200101000000&to=20251231235959&endeks=THYAO" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotUA != "test-agent" {
		t.Fatalf("user agent not forwarded: %q", gotUA)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].Price != 10.5 || !samples[0].Time.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first sample %#v", samples[0])
	}
	if samples[2].Price != 0 {
		t.Fatalf("null price should decode as missing, got %v", samples[2].Price)
	}
}

func TestHTTPHistoryHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPHistory(HistoryOptions{URLTemplate: srv.URL + "?c={code}", Timeout: time.Second}, noopLogger())
	if _, err := h.FetchHistory(context.Background(), "AAA"); err == nil {
		t.Fatal("HTTP 500 应返回错误")
	}
}

func TestHTTPHistoryMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	h := NewHTTPHistory(HistoryOptions{URLTemplate: srv.URL + "?c={code}", Timeout: time.Second}, noopLogger())
	if _, err := h.FetchHistory(context.Background(), "AAA"); err == nil {
		t.Fatal("malformed payload should fail")
	}
}

func TestHTTPHistoryMissingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := NewHTTPHistory(HistoryOptions{URLTemplate: srv.URL + "?c={code}", Timeout: time.Second}, noopLogger())
	_, err := h.FetchHistory(context.Background(), "AAA")
	if !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}
