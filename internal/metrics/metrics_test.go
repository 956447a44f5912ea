package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NewMai/QABot/internal/stats"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func TestGaugesPublish(t *testing.T) {
	require.NoError(t, view.Register(DefaultViews...))

	Gauges{}.Publish(stats.Snapshot{StoragePending: 4, StorageFailed: 2, RetrievalSucceeded: 7})

	rows, err := view.RetrieveData(StorageDealsFailed.Name())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float64(2), rows[0].Data.(*view.LastValueData).Value)

	rows, err = view.RetrieveData(RetrieveDealsSuccessful.Name())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float64(7), rows[0].Data.(*view.LastValueData).Value)
}

func TestExporterServes(t *testing.T) {
	h := Exporter("qabot_test")
	Gauges{}.Publish(stats.Snapshot{StoragePending: 1})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
