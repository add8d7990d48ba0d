// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluesky_import_requests_total",
		Help: "Import requests by source and outcome",
	}, []string{"source", "outcome"})
	ImportDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bluesky_import_duration_seconds",
		Help:    "Import request duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	SkippedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluesky_skipped_records_total",
		Help: "Records skipped because they could not be processed",
	}, []string{"stage"})
	PersistedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluesky_persisted_rows_total",
		Help: "Rows handed to the persister by table and result",
	}, []string{"table", "result"})
	APICalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluesky_api_calls_total",
		Help: "XRPC calls by method and status class",
	}, []string{"method", "status"})
	FirehoseEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bluesky_firehose_events_total",
		Help: "Firehose events by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(ImportRequests, ImportDuration, SkippedRecords, PersistedRows, APICalls, FirehoseEvents)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveImport records the outcome and duration of one import request.
func ObserveImport(source string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ImportRequests.WithLabelValues(source, outcome).Inc()
	ImportDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// IncSkipped counts a record dropped at stage (normalize, insert, stream).
func IncSkipped(stage string) { SkippedRecords.WithLabelValues(stage).Inc() }

// AddPersisted adds per-result row counts for table.
func AddPersisted(table string, inserted, conflicts, failed int) {
	PersistedRows.WithLabelValues(table, "inserted").Add(float64(inserted))
	PersistedRows.WithLabelValues(table, "conflict").Add(float64(conflicts))
	PersistedRows.WithLabelValues(table, "failed").Add(float64(failed))
}

// IncAPICall counts one XRPC call. A status of 0 means the request never got
// a response.
func IncAPICall(method string, status int) {
	APICalls.WithLabelValues(method, statusClass(status)).Inc()
}

// IncFirehoseEvent counts one firehose event of the given kind.
func IncFirehoseEvent(kind string) { FirehoseEvents.WithLabelValues(kind).Inc() }

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
