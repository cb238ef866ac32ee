package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newInspectorTestServer(t *testing.T, page string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	})
	mux.HandleFunc("/a.css", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("a", 100))
	})
	mux.HandleFunc("/b.css", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("b", 200))
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("j", 300))
	})
	mux.HandleFunc("/lazy.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("p", 50))
	})
	mux.HandleFunc("/eager.png", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("p", 80))
	})
	return httptest.NewServer(mux)
}

func TestInspectTotalsAndSizes(t *testing.T) {
	page := `<html><head>
		<link rel="stylesheet" href="/a.css">
		<link rel="stylesheet" href="/b.css">
		<script src="/app.js"></script>
	</head><body></body></html>`
	srv := newInspectorTestServer(t, page)
	defer srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false).WithWorkerCount(2)
	inspector.SetHTTPClient(srv.Client())

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	if payload.CSSCount != 2 || payload.JSCount != 1 {
		t.Fatalf("unexpected counts: css=%d js=%d", payload.CSSCount, payload.JSCount)
	}
	if payload.CSSTotalSize != "300 bytes" {
		t.Fatalf("unexpected css total: %s", payload.CSSTotalSize)
	}
	if payload.JSTotalSize != "300 bytes" {
		t.Fatalf("unexpected js total: %s", payload.JSTotalSize)
	}
	if payload.TotalSize != "600 bytes" {
		t.Fatalf("unexpected total: %s", payload.TotalSize)
	}
	if payload.LoadTime < 0 {
		t.Fatalf("unexpected load time: %f", payload.LoadTime)
	}
}

func TestInspectDuplicateIdentityCounts(t *testing.T) {
	// 同一 id 的引用按 count 归并，合计按 size × count 计
	page := `<html><head>
		<link rel="stylesheet" id="theme-css" href="/a.css">
		<link rel="stylesheet" id="theme-css" href="/a.css">
	</head><body></body></html>`
	srv := newInspectorTestServer(t, page)
	defer srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false).WithWorkerCount(1)
	inspector.SetHTTPClient(srv.Client())

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	if len(payload.CSSSizes) != 1 {
		t.Fatalf("expected 1 merged css entry, got %d", len(payload.CSSSizes))
	}
	entry := payload.CSSSizes[0]
	if entry.Count != 2 {
		t.Fatalf("expected count 2, got %d", entry.Count)
	}
	if entry.ID != "theme-css" || entry.BaseName != "theme-css" {
		t.Fatalf("unexpected identity: id=%s base=%s", entry.ID, entry.BaseName)
	}
	if payload.CSSTotalSize != "200 bytes" {
		t.Fatalf("expected size x count total, got %s", payload.CSSTotalSize)
	}
}

func TestInspectLazyLoadExclusive(t *testing.T) {
	// 页面一旦出现 data-src，普通 src 图片整页不计
	page := `<html><body>
		<img data-src="/lazy.png">
		<img src="/eager.png">
	</body></html>`
	srv := newInspectorTestServer(t, page)
	defer srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false).WithWorkerCount(1)
	inspector.SetHTTPClient(srv.Client())

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	if payload.MediaCount != 1 {
		t.Fatalf("expected only lazy image counted, got %d", payload.MediaCount)
	}
	entry := payload.MediaSizes[0]
	if entry.BaseName != "lazy.png" {
		t.Fatalf("unexpected media entry: %s", entry.BaseName)
	}
	if entry.LazyLoad == nil || !*entry.LazyLoad {
		t.Fatal("expected lazy_load to be true")
	}
}

func TestInspectEagerFallback(t *testing.T) {
	page := `<html><body><img src="/eager.png"></body></html>`
	srv := newInspectorTestServer(t, page)
	defer srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false).WithWorkerCount(1)
	inspector.SetHTTPClient(srv.Client())

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	if payload.MediaCount != 1 {
		t.Fatalf("expected eager image counted, got %d", payload.MediaCount)
	}
	entry := payload.MediaSizes[0]
	if entry.LazyLoad == nil || *entry.LazyLoad {
		t.Fatal("expected lazy_load to be false")
	}
}

func TestInspectFailedAssetCountsZero(t *testing.T) {
	page := `<html><head><link rel="stylesheet" href="/missing.css"></head></html>`
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.css" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, page)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false).WithWorkerCount(1)
	inspector.SetHTTPClient(srv.Client())

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if payload.CSSCount != 1 {
		t.Fatalf("expected failed asset still listed, got %d", payload.CSSCount)
	}
	if payload.CSSSizes[0].Size != 0 {
		t.Fatalf("expected failed asset to count zero bytes, got %d", payload.CSSSizes[0].Size)
	}
	if payload.CSSTotalSize != "0 bytes" {
		t.Fatalf("unexpected css total: %s", payload.CSSTotalSize)
	}
}

func TestInspectRootFetchFailure(t *testing.T) {
	srv := newInspectorTestServer(t, "")
	srv.Close()

	inspector := NewResourceInspector(nil, srv.URL, false)

	payload, err := inspector.Inspect(context.Background(), srv.URL, "Example")
	if err == nil {
		t.Fatal("expected error for unreachable page")
	}
	if payload == nil || payload.Error == "" {
		t.Fatal("expected error payload for unreachable page")
	}
}

func TestFormatAssetSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0 bytes"},
		{300, "300 bytes"},
		{1024, "1024 bytes"},
		{2048, "2 KB"},
		{1536, "1.5 KB"},
		{3 * 1024 * 1024, "3 MB"},
	}
	for _, tc := range cases {
		if got := formatAssetSize(tc.size); got != tc.want {
			t.Fatalf("formatAssetSize(%d) = %s, want %s", tc.size, got, tc.want)
		}
	}
}

func TestVersionFromURL(t *testing.T) {
	if got := versionFromURL("https://example.com/style.css?ver=6.4.2"); got != "6.4.2" {
		t.Fatalf("unexpected version: %s", got)
	}
	if got := versionFromURL("https://example.com/style.css"); got != "None" {
		t.Fatalf("expected None for missing version, got %s", got)
	}
}
