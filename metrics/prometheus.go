package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tgdrop"

var (
	descMessages = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "messages_total"),
		"Inbound messages by outcome.",
		[]string{"outcome", "transport"}, nil,
	)
	descRejected = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rejections_total"),
		"Policy rejections by reason.",
		[]string{"reason"}, nil,
	)
	descSaves = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "saves_total"),
		"Completed save pipelines by result.",
		[]string{"result"}, nil,
	)
	descInFlight = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "saves_in_flight"),
		"Save pipelines currently running.",
		nil, nil,
	)
	descBytes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "bytes_written_total"),
		"Bytes written to the storage root.",
		nil, nil,
	)
	descHooks = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "hook_calls_total"),
		"Post-save hook calls by hook and result.",
		[]string{"hook", "result"}, nil,
	)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descMessages
	ch <- descRejected
	ch <- descSaves
	ch <- descInFlight
	ch <- descBytes
	ch <- descHooks
}

// Collect implements prometheus.Collector from a single snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(descMessages, s.MessagesReceived, "received", s.Transport)
	counter(descMessages, s.MessagesDuplicate, "duplicate", s.Transport)
	counter(descMessages, s.MessagesAdmitted, "admitted", s.Transport)
	counter(descMessages, s.MessagesRejected, "rejected", s.Transport)
	for reason, n := range s.RejectedByReason {
		counter(descRejected, n, reason)
	}
	counter(descSaves, s.SavesSucceeded, "success")
	counter(descSaves, s.SavesFailed, "failure")
	ch <- prometheus.MustNewConstMetric(descInFlight, prometheus.GaugeValue, float64(s.SavesInFlight))
	counter(descBytes, s.BytesWritten)
	counter(descHooks, s.MirrorSuccess, "mirror", "success")
	counter(descHooks, s.MirrorFailure, "mirror", "failure")
	counter(descHooks, s.NotifySuccess, "notify", "success")
	counter(descHooks, s.NotifyFailure, "notify", "failure")
}

var _ prometheus.Collector = (*Collector)(nil)
