// Package trace provides request-event trace recording for engine
// lifecycle analysis. This package stores pure data types and has no
// dependency on the serve package.
package trace

import "time"

// EventRecord captures one lifecycle event of a request.
type EventRecord struct {
	RequestID string
	Event     string // "add", "preempt", "finish", ...
	Time      time.Time
}

// Recorder receives lifecycle events. A nil Recorder disables tracing with
// zero overhead; call sites go through RecordEvent, which tolerates nil.
type Recorder interface {
	Record(record EventRecord)
}

// RecordEvent appends an event to rec, if tracing is enabled.
func RecordEvent(rec Recorder, requestID, event string) {
	if rec == nil {
		return
	}
	rec.Record(EventRecord{RequestID: requestID, Event: event, Time: time.Now()})
}

// EventTrace is an in-memory Recorder.
type EventTrace struct {
	Events []EventRecord
}

// NewEventTrace creates an EventTrace ready for recording.
func NewEventTrace() *EventTrace {
	return &EventTrace{Events: make([]EventRecord, 0)}
}

// Record appends an event record.
func (et *EventTrace) Record(record EventRecord) {
	et.Events = append(et.Events, record)
}

// ByRequest groups recorded event names by request id, in record order.
func (et *EventTrace) ByRequest() map[string][]string {
	grouped := make(map[string][]string)
	for _, record := range et.Events {
		grouped[record.RequestID] = append(grouped[record.RequestID], record.Event)
	}
	return grouped
}
