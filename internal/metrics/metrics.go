package metrics

import (
	"context"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/NewMai/QABot/internal/stats"
	logging "github.com/ipfs/go-log/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	ocstats "go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var log = logging.Logger("qabot/metrics")

// Measures
var (
	StorageDealsPending     = ocstats.Int64("storage_deals/pending", "Storage deals awaiting a terminal state", ocstats.UnitDimensionless)
	StorageDealsSuccessful  = ocstats.Int64("storage_deals/successful", "Storage deals that reached Active", ocstats.UnitDimensionless)
	StorageDealsFailed      = ocstats.Int64("storage_deals/failed", "Storage deals that failed or timed out", ocstats.UnitDimensionless)
	RetrieveDealsPending    = ocstats.Int64("retrieve_deals/pending", "Retrievals awaiting verification", ocstats.UnitDimensionless)
	RetrieveDealsSuccessful = ocstats.Int64("retrieve_deals/successful", "Retrievals whose content hash matched", ocstats.UnitDimensionless)
	RetrieveDealsFailed     = ocstats.Int64("retrieve_deals/failed", "Retrievals that failed, timed out or mismatched", ocstats.UnitDimensionless)
)

var DefaultViews = []*view.View{
	lastValue(StorageDealsPending),
	lastValue(StorageDealsSuccessful),
	lastValue(StorageDealsFailed),
	lastValue(RetrieveDealsPending),
	lastValue(RetrieveDealsSuccessful),
	lastValue(RetrieveDealsFailed),
}

func lastValue(m *ocstats.Int64Measure) *view.View {
	return &view.View{Measure: m, Aggregation: view.LastValue()}
}

// Gauges publishes stats snapshots as opencensus measurements
type Gauges struct{}

var _ stats.Sink = Gauges{}

func (Gauges) Publish(s stats.Snapshot) {
	ocstats.Record(context.Background(),
		StorageDealsPending.M(s.StoragePending),
		StorageDealsSuccessful.M(s.StorageSucceeded),
		StorageDealsFailed.M(s.StorageFailed),
		RetrieveDealsPending.M(s.RetrievalPending),
		RetrieveDealsSuccessful.M(s.RetrievalSucceeded),
		RetrieveDealsFailed.M(s.RetrievalFailed),
	)
}

// Exporter registers the views and returns the prometheus scrape handler
func Exporter(namespace string) http.Handler {
	if err := view.Register(DefaultViews...); err != nil {
		log.Errorf("cannot register default metric views: %s", err)
	}

	// the opencensus exporter wants the concrete registry behind the global
	registry, ok := promclient.DefaultRegisterer.(*promclient.Registry)
	if !ok {
		log.Warnf("failed to export default prometheus registry; unexpected type: %T", promclient.DefaultRegisterer)
	}
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: namespace,
	})
	if err != nil {
		log.Errorf("could not create the prometheus stats exporter: %v", err)
		return http.NotFoundHandler()
	}

	return exporter
}
