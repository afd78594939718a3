package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// visitRequestMetrics accumulates timings for one list request and emits them
// as a single structured log line when the response is written.
type visitRequestMetrics struct {
	logger          *log.Logger
	route           string
	start           time.Time
	visitDuration   time.Duration
	encodeDuration  time.Duration
	recordsReturned int
	errorStage      string
}

func newVisitRequestMetrics(route string, logger *log.Logger) *visitRequestMetrics {
	return &visitRequestMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
	}
}

func (m *visitRequestMetrics) ObserveVisit(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.visitDuration = duration
}

func (m *visitRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *visitRequestMetrics) SetRecordsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.recordsReturned = count
}

func (m *visitRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *visitRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":            m.route,
		"status":           status,
		"total_ms":         durationToMillis(time.Since(m.start)),
		"records_returned": m.recordsReturned,
	}

	if m.visitDuration > 0 {
		fields["visit_ms"] = durationToMillis(m.visitDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("visit.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
