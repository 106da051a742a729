package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_runs_started_total", Help: "Automation runs admitted"})
	RunsRejected     = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_runs_rejected_total", Help: "Run submissions rejected while busy"})
	RunsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_runs_succeeded_total", Help: "Runs that ended in a successful print"})
	RunsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "agent_runs_failed_total", Help: "Runs that failed, by error kind"}, []string{"kind"})
	CaptchaAttempts  = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_captcha_attempts_total", Help: "Captcha recognition attempts"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_rate_limit_rejects_total", Help: "Login requests rejected by rate limiter"})
	PagesPrinted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "agent_documents_printed_total", Help: "PDF files submitted to the spooler"})
	RunInFlight      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "agent_run_inflight", Help: "Whether an automation run is currently processing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsRejected,
			RunsSucceeded,
			RunsFailed,
			CaptchaAttempts,
			RateLimitRejects,
			PagesPrinted,
			RunInFlight,
		)
	})
	return promhttp.Handler()
}
