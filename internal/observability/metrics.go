package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	scanCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passport",
		Subsystem: "scan",
		Name:      "requests_total",
		Help:      "Scan submissions by outcome.",
	}, []string{"result"})
	registrationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "passport",
		Subsystem: "registration",
		Name:      "requests_total",
		Help:      "Registrations by outcome.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(scanCounter, registrationCounter)
}

// RecordScan counts one scan outcome: added, duplicate, invalid, unknown
// or error.
func RecordScan(result string) {
	scanCounter.WithLabelValues(result).Inc()
}

// RecordRegistration counts one registration outcome: created or existing.
func RecordRegistration(result string) {
	registrationCounter.WithLabelValues(result).Inc()
}
