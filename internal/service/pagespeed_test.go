package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sitepulse/internal/db"
)

const lighthouseFixture = `{
  "lighthouseResult": {
    "categories": {
      "performance": {
        "id": "performance",
        "title": "Performance",
        "score": 0.85,
        "auditRefs": [
          {"id": "first-contentful-paint", "weight": 10, "group": "metrics", "acronym": "FCP"},
          {"id": "interactive", "weight": 10, "group": "metrics", "acronym": "TTI"},
          {"id": "render-blocking-resources", "weight": 0, "group": "diagnostics"}
        ]
      },
      "seo": {"id": "seo", "title": "SEO", "score": 0.9}
    },
    "audits": {
      "first-contentful-paint": {
        "id": "first-contentful-paint",
        "title": "First Contentful Paint",
        "description": "Marks the time at which the first text is painted. [Learn more](https://web.dev/fcp/).",
        "score": 0.9,
        "scoreDisplayMode": "numeric",
        "displayValue": "1.2 s"
      },
      "interactive": {
        "id": "interactive",
        "title": "Time to Interactive",
        "score": 0.8,
        "scoreDisplayMode": "numeric",
        "displayValue": "3.0 s"
      },
      "render-blocking-resources": {
        "id": "render-blocking-resources",
        "title": "Eliminate render-blocking resources",
        "score": 0.5,
        "scoreDisplayMode": "numeric",
        "displayValue": "Potential savings of 100 ms"
      }
    }
  }
}`

func TestFetchReportReducesAudits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lighthouseFixture)
	}))
	defer srv.Close()

	svc := NewSpeedReportService(nil, srv.URL, "", "https://example.com")
	svc.SetHTTPClient(srv.Client())

	report, err := svc.FetchReport(context.Background())
	if err != nil {
		t.Fatalf("FetchReport returned error: %v", err)
	}

	audits := report.MobileData.Audits
	if _, ok := audits["first-contentful-paint"]; !ok {
		t.Fatal("expected core acronym audit to be kept")
	}
	if _, ok := audits["render-blocking-resources"]; !ok {
		t.Fatal("expected diagnostics audit to be kept")
	}
	if _, ok := audits["interactive"]; ok {
		t.Fatal("expected non-core audit to be dropped")
	}

	diag := audits["render-blocking-resources"]
	if len(diag.Type) != 2 || diag.Type[0] != "FCP" || diag.Type[1] != "LCP" {
		t.Fatalf("unexpected diagnostic tags: %v", diag.Type)
	}

	fcp := audits["first-contentful-paint"]
	if strings.Contains(fcp.Description, "[Learn more]") {
		t.Fatalf("expected markdown link to be rendered: %s", fcp.Description)
	}
	if !strings.Contains(fcp.Description, `href="https://web.dev/fcp/"`) {
		t.Fatalf("expected rendered anchor in description: %s", fcp.Description)
	}
	if !strings.Contains(fcp.Description, `target="_blank"`) {
		t.Fatalf("expected external link attributes: %s", fcp.Description)
	}

	perf, ok := report.MobileData.Categories["performance"]
	if !ok {
		t.Fatal("expected performance category to be kept")
	}
	if len(perf.AuditRefs) != 1 || perf.AuditRefs[0].Acronym != "FCP" {
		t.Fatalf("unexpected performance audit refs: %v", perf.AuditRefs)
	}

	seo, ok := report.DesktopData.Categories["seo"]
	if !ok {
		t.Fatal("expected seo category to be kept")
	}
	if seo.Score == nil || *seo.Score != 0.9 {
		t.Fatalf("unexpected seo score: %v", seo.Score)
	}
}

func TestFetchReportEitherDeviceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("strategy") == "DESKTOP" {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, lighthouseFixture)
	}))
	defer srv.Close()

	svc := NewSpeedReportService(nil, srv.URL, "", "https://example.com")
	svc.SetHTTPClient(srv.Client())

	if _, err := svc.FetchReport(context.Background()); !errors.Is(err, ErrReportUnavailable) {
		t.Fatalf("expected ErrReportUnavailable, got %v", err)
	}
}

func TestFetchReportLocalhostSubstitution(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Query().Get("url"))
		fmt.Fprint(w, lighthouseFixture)
	}))
	defer srv.Close()

	svc := NewSpeedReportService(nil, srv.URL, "", "http://localhost:8080/")
	svc.SetHTTPClient(srv.Client())

	if _, err := svc.FetchReport(context.Background()); err != nil {
		t.Fatalf("FetchReport returned error: %v", err)
	}

	for _, target := range requested {
		if target != "https://developers.google.com" {
			t.Fatalf("expected localhost origin to be substituted, got %s", target)
		}
	}
}

func TestFetchReportWritesSlot(t *testing.T) {
	gdb, cleanup := setupStoreTestDB(t)
	defer cleanup()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, lighthouseFixture)
	}))
	defer srv.Close()

	store := NewSnapshotService(gdb)
	svc := NewSpeedReportService(store, srv.URL, "", "https://example.com")
	svc.SetHTTPClient(srv.Client())

	if _, err := svc.FetchReport(context.Background()); err != nil {
		t.Fatalf("FetchReport returned error: %v", err)
	}

	var cached SpeedReportPayload
	if err := store.GetSlot(db.SlotSpeedReport, &cached); err != nil {
		t.Fatalf("expected cached speed report, got error: %v", err)
	}
	if _, ok := cached.MobileData.Audits["first-contentful-paint"]; !ok {
		t.Fatal("expected cached report to carry reduced audits")
	}
}

func TestDisplayValueString(t *testing.T) {
	if got := displayValueString("1.2 s"); got != "1.2 s" {
		t.Fatalf("unexpected string passthrough: %s", got)
	}
	if got := displayValueString(float64(3)); got != "3" {
		t.Fatalf("unexpected numeric formatting: %s", got)
	}
	if got := displayValueString(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %s", got)
	}
}
