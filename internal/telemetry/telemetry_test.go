package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New()
	assert.NotNil(t, m.registry)
	assert.NotNil(t, m.Handler())
}

func TestRecordStoreOperation_ExposedThroughHandler(t *testing.T) {
	m := New()
	m.RecordStoreOperation("add", "ok")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), `logins_store_operations_total{op="add",result="ok"} 1`)
}

func TestRecordSyncOutcome_ExposedThroughHandler(t *testing.T) {
	m := New()
	m.RecordSyncOutcome("two_way_merged")
	m.RecordSyncOutcome("two_way_merged")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Contains(t, rec.Body.String(), `logins_sync_records_total{outcome="two_way_merged"} 2`)
}

func TestObserveSyncDuration(t *testing.T) {
	m := New()
	m.ObserveSyncDuration(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Contains(t, rec.Body.String(), "logins_sync_duration_seconds")
}

func TestSetUpdatePlanSize(t *testing.T) {
	m := New()
	m.SetUpdatePlanSize(1, 2, 3, 4, 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `logins_update_plan_size{batch="delete_local"} 1`)
	assert.Contains(t, body, `logins_update_plan_size{batch="local_updates"} 5`)
}

func TestNew_IndependentRegistriesDontCollide(t *testing.T) {
	a := New()
	b := New()
	a.RecordStoreOperation("add", "ok")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "logins_store_operations_total")
}
