package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studydesk/internal/domain"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/repository/memory"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestInstrumentedGatewayWrapsFailures(t *testing.T) {
	gw := InstrumentGateway(memory.NewGateway())
	ctx := context.Background()

	okBefore := counterValue(t, gatewayCallsTotal.WithLabelValues("create_folder", "success"))
	id, err := gw.CreateFolder(ctx, &treeRepo.CreateRequest{ID: "lectures", OwnerID: "o", Name: "Lectures"})
	require.NoError(t, err)
	assert.Equal(t, "lectures", id)
	assert.Equal(t, okBefore+1, counterValue(t, gatewayCallsTotal.WithLabelValues("create_folder", "success")))

	rejectedBefore := counterValue(t, gatewayCallsTotal.WithLabelValues("rename_document", "rejected"))
	err = gw.RenameDocument(ctx, "o", "ghost", "x")
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.ErrorIs(t, err, domain.ErrNotFound)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "rename_document", gwErr.Op)
	assert.Equal(t, "ghost", gwErr.ID)
	assert.Equal(t, rejectedBefore+1, counterValue(t, gatewayCallsTotal.WithLabelValues("rename_document", "rejected")))

	forest, err := gw.ListTree(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, forest, 1)
}

func TestRecordRollback(t *testing.T) {
	applied := rollbacksTotal.WithLabelValues("move", "applied")
	superseded := rollbacksTotal.WithLabelValues("move", "superseded")
	a, s := counterValue(t, applied), counterValue(t, superseded)

	RecordRollback("move", true)
	RecordRollback("move", false)
	RecordRollback("move", false)

	assert.Equal(t, a+1, counterValue(t, applied))
	assert.Equal(t, s+2, counterValue(t, superseded))
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	byPattern := httpRequestsTotal.WithLabelValues("GET", "GET /api/items/{id}", "418")
	unmatched := httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	p, u := counterValue(t, byPattern), counterValue(t, unmatched)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/abc", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/def", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, p+2, counterValue(t, byPattern))
	assert.Equal(t, u+1, counterValue(t, unmatched))
}
