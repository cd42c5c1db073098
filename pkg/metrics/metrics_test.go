package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m.StoreOperations == nil || m.DiscoveryLatency == nil || m.TitleCacheEntries == nil {
		t.Fatal("metrics not created")
	}
}

func TestObserveStore(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveStore("get", "ok", time.Now())
	m.ObserveStore("get", "ok", time.Now())
	m.ObserveStore("get", "not_found", time.Now())

	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("get", "ok")); got != 2 {
		t.Errorf("get/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("get", "not_found")); got != 1 {
		t.Errorf("get/not_found = %v, want 1", got)
	}

	var nilMetrics *WikiMetrics
	nilMetrics.ObserveStore("get", "ok", time.Now())
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.CacheRefreshes.Inc()

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "wiki_title_cache_refreshes_total 1") {
		t.Errorf("metrics output missing refresh counter:\n%s", body)
	}
}
