package logging

import "time"

// DocumentLog is the audit record emitted for every processing job.
type DocumentLog struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	Account     string    `json:"account"`
	APIKeyID    string    `json:"api_key_id,omitempty"`
	Operation   string    `json:"operation"`
	FileName    string    `json:"file_name,omitempty"`
	PageCount   int64     `json:"page_count,omitempty"`
	Units       int64     `json:"units"`
	Plan        string    `json:"plan,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	QueueMs     int64     `json:"queue_ms"`
	ProcessMs   int64     `json:"process_ms"`
	BytesIn     int64     `json:"bytes_in,omitempty"`
	BytesOut    int64     `json:"bytes_out,omitempty"`
	Error       string    `json:"error,omitempty"`
	Reservation string    `json:"reservation,omitempty"`
}

// Sink receives audit records from the handlers. Enqueue must be cheap
// and non-blocking; the request path never waits on the sink.
type Sink interface {
	Enqueue(rec *DocumentLog) error
}

// NoopSink discards records. Used when the audit sink is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *DocumentLog) error {
	return nil
}
