package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrNoop(t *testing.T) {
	assert.Equal(t, Noop(), OrNoop(nil))

	p := NewPrometheus()
	assert.Same(t, p, OrNoop(p))
}

func TestTimeStoreOpRecordsOutcome(t *testing.T) {
	p := NewPrometheus()

	TimeStoreOp(p, "save_entity")(true)
	TimeStoreOp(p, "save_entity")(false)
	TimeStoreOp(p, "save_entity")(true)

	body := scrape(t, p)
	assert.Contains(t, body, `medreason_store_ops_total{op="save_entity",success="true"} 2`)
	assert.Contains(t, body, `medreason_store_ops_total{op="save_entity",success="false"} 1`)
}

func TestTimeCallWithNilRecorder(t *testing.T) {
	assert.NotPanics(t, func() { TimeCall(nil, "analyze")(true) })
}

func TestHandlerExposesMetrics(t *testing.T) {
	p := NewPrometheus()
	TimeCall(p, "search_medicine")(true)
	p.IncTier("knowledge_graph")

	body := scrape(t, p)
	assert.True(t, strings.Contains(body, "medreason_calls_total"))
	assert.Contains(t, body, `medreason_medicine_search_tier_total{tier="knowledge_graph"} 1`)
}

func scrape(t *testing.T, p *Prometheus) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
