// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the reputation engine.
var (
	// Award pipeline.
	AwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_awards_total",
			Help: "Total number of award calls by action type and outcome",
		},
		[]string{"action", "status"},
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_points_awarded_total",
			Help: "Sum of applied deltas, including streak bonuses and milestone rewards",
		},
		[]string{"action"},
	)

	AwardDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reputation_award_duration_seconds",
			Help:    "Time taken to process an award, including lock wait",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	MetricFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_metric_fetch_failures_total",
			Help: "Milestone metric counts that could not be fetched",
		},
		[]string{"metric"},
	)

	// Streaks.
	StreakTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_streak_transitions_total",
			Help: "Streak state machine transitions",
		},
		[]string{"transition"},
	)

	StreakClockSkewTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reputation_streak_clock_skew_total",
			Help: "Login-class triggers dated before the stored last activity date",
		},
	)

	// Milestones.
	MilestonesGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_milestones_granted_total",
			Help: "Total number of milestones granted",
		},
		[]string{"milestone"},
	)

	MilestoneGrantConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reputation_milestone_grant_conflicts_total",
			Help: "Grant inserts rejected because the milestone was already granted",
		},
	)

	MilestoneHolders = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reputation_milestone_holders",
			Help: "Current number of users holding each milestone",
		},
		[]string{"milestone"},
	)

	// Presence and dispatch.
	PresenceConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections",
			Help: "Current number of registered live connections",
		},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Domain events handed to the dispatcher by event name and outcome",
		},
		[]string{"event", "outcome"},
	)

	// Scheduler metrics.
	SchedulerJobsRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_run_total",
			Help: "Total scheduler job executions",
		},
		[]string{"job", "status"},
	)

	SchedulerJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Time taken to execute a scheduler job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"job"},
	)

	SchedulerLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_last_run_timestamp",
			Help: "Unix timestamp of last scheduler run",
		},
		[]string{"job"},
	)

	RemindersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_reminders_sent_total",
			Help: "Out-of-band streak reminders sent",
		},
		[]string{"backend"},
	)

	RemindersFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_reminders_failed_total",
			Help: "Failed out-of-band streak reminder attempts",
		},
		[]string{"backend", "reason"},
	)
)

// RecordAward records the outcome of an award call.
func RecordAward(action, status string) {
	AwardsTotal.WithLabelValues(action, status).Inc()
}

// RecordPointsAwarded adds granted points for an action. Deductions are not counted.
func RecordPointsAwarded(action string, delta int64) {
	if delta <= 0 {
		return
	}
	PointsAwardedTotal.WithLabelValues(action).Add(float64(delta))
}

// ObserveAwardDuration observes the duration of an award call.
func ObserveAwardDuration(seconds float64) {
	AwardDurationSeconds.Observe(seconds)
}

// RecordMetricFetchFailure records a failed metric count.
func RecordMetricFetchFailure(metric string) {
	MetricFetchFailuresTotal.WithLabelValues(metric).Inc()
}

// RecordStreakTransition records a streak transition.
func RecordStreakTransition(transition string) {
	StreakTransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordStreakClockSkew records a backdated login-class trigger.
func RecordStreakClockSkew() {
	StreakClockSkewTotal.Inc()
}

// RecordMilestoneGranted records a milestone grant.
func RecordMilestoneGranted(milestone string) {
	MilestonesGrantedTotal.WithLabelValues(milestone).Inc()
}

// RecordMilestoneGrantConflict records a grant that lost the first-writer race.
func RecordMilestoneGrantConflict() {
	MilestoneGrantConflictsTotal.Inc()
}

// SetMilestoneHolders sets the number of holders for a milestone.
func SetMilestoneHolders(milestone string, count int64) {
	MilestoneHolders.WithLabelValues(milestone).Set(float64(count))
}

// IncPresenceConnections increments the live connection gauge.
func IncPresenceConnections() {
	PresenceConnections.Inc()
}

// DecPresenceConnections decrements the live connection gauge.
func DecPresenceConnections() {
	PresenceConnections.Dec()
}

// RecordDispatch records a dispatch outcome: delivered, offline or failed.
func RecordDispatch(event, outcome string) {
	DispatchTotal.WithLabelValues(event, outcome).Inc()
}

// RecordSchedulerJobRun records a scheduler job execution.
func RecordSchedulerJobRun(job, status string) {
	SchedulerJobsRunTotal.WithLabelValues(job, status).Inc()
}

// ObserveSchedulerJobDuration observes the duration of a scheduler job.
func ObserveSchedulerJobDuration(job string, seconds float64) {
	SchedulerJobDurationSeconds.WithLabelValues(job).Observe(seconds)
}

// SetSchedulerLastRun sets the timestamp of the last run of a job.
func SetSchedulerLastRun(job string) {
	SchedulerLastRunTimestamp.WithLabelValues(job).SetToCurrentTime()
}

// RecordReminderSent records a reminder delivered through a backend.
func RecordReminderSent(backend string) {
	RemindersSentTotal.WithLabelValues(backend).Inc()
}

// RecordReminderFailed records a failed reminder.
func RecordReminderFailed(backend, reason string) {
	RemindersFailedTotal.WithLabelValues(backend, reason).Inc()
}
