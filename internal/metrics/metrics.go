// Package metrics registers the app's Prometheus counters on the default
// registry; the API binary exposes them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignIns counts successful sign-ins.
	SignIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appmobile_signins_total",
		Help: "Successful sign-ins.",
	})

	// SignInFailures counts rejected sign-in attempts by reason.
	SignInFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appmobile_signin_failures_total",
		Help: "Rejected sign-in attempts.",
	}, []string{"reason"})

	// SignUps counts created accounts.
	SignUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appmobile_signups_total",
		Help: "Created accounts.",
	})

	// ScansRecorded counts stored attendance records.
	ScansRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appmobile_scans_recorded_total",
		Help: "Attendance records stored.",
	})

	// ScansDuplicate counts scans rejected by the duplicate check.
	ScansDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appmobile_scans_duplicate_total",
		Help: "Scans rejected as duplicates.",
	})

	// ResetMails counts password-reset deliveries handled by the worker.
	ResetMails = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appmobile_reset_mails_total",
		Help: "Password-reset mails dispatched.",
	})
)
