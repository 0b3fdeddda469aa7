package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	LeadsGenerated    prometheus.Counter
	OutreachSent      prometheus.Counter
	FollowupsSent     prometheus.Counter
	LeadsClosed       prometheus.Counter
	RepliesPolled     prometheus.Counter
	RepliesProcessed  *prometheus.CounterVec
	RepliesDeadLetter prometheus.Counter
	RepliesOrphaned   prometheus.Counter
	TaskRuns          *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ProcessingTime    prometheus.Histogram
	TaskDuration      prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics registered on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates new Prometheus metrics on the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LeadsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_leads_generated_total",
			Help: "Total number of new leads inserted by the generation task",
		}),
		OutreachSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_emails_sent_total",
			Help: "Total number of first-touch outreach emails sent",
		}),
		FollowupsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_followups_sent_total",
			Help: "Total number of follow-up emails sent",
		}),
		LeadsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_leads_closed_total",
			Help: "Total number of leads closed after exhausting the follow-up budget",
		}),
		RepliesPolled: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_replies_polled_total",
			Help: "Total number of inbound messages admitted to the reply queue",
		}),
		RepliesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_replies_processed_total",
			Help: "Total number of replies fully processed, by classification",
		}, []string{"classification"}),
		RepliesDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_replies_dead_lettered_total",
			Help: "Total number of replies moved to the dead-letter sink",
		}),
		RepliesOrphaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_replies_orphaned_total",
			Help: "Total number of replies routed to the manual-review sink",
		}),
		TaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_task_runs_total",
			Help: "Total number of campaign task runs, by kind and outcome",
		}, []string{"kind", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_reply_queue_depth",
			Help: "Current number of reply events waiting in the work queue",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_reply_processing_duration_seconds",
			Help:    "Time spent processing one inbound reply",
			Buckets: prometheus.DefBuckets,
		}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_task_duration_seconds",
			Help:    "Time spent running one campaign task",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
		}),
	}
}
