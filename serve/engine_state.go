// Process-wide engine state: the running and waiting queues, the request
// state map, the sequence id allocator, and the dirty flag that tells the
// scheduler the active-branch set changed.

package serve

import (
	"fmt"
	"time"
)

// EngineState is the mutable state of one serving session. All mutation
// happens within a single sequential engine step driven by one control
// goroutine; no internal locking.
type EngineState struct {
	PrefixCache PrefixCache
	IDs         *SeqIDAllocator

	// RunningQueue holds admitted requests competing for backend resources,
	// in admission order. A request stays here while at least one of its
	// entries is not yet fully finished and retired.
	RunningQueue *RequestQueue
	// WaitingQueue holds requests awaiting (re)admission; front is next.
	WaitingQueue *RequestQueue

	RequestStates map[string]*RequestState
	Metrics       *EngineMetrics

	// RunningEntriesChanged signals that the set of active branches changed
	// and the scheduler must recompute its batch. Set by finish cascades and
	// preemption; cleared by the scheduler at the step boundary via
	// ConsumeDirty.
	RunningEntriesChanged bool
}

// NewEngineState creates an engine state bound to the given prefix cache.
func NewEngineState(prefixCache PrefixCache) *EngineState {
	return &EngineState{
		PrefixCache:   prefixCache,
		IDs:           NewSeqIDAllocator(),
		RunningQueue:  &RequestQueue{},
		WaitingQueue:  &RequestQueue{},
		RequestStates: make(map[string]*RequestState),
		Metrics:       NewEngineMetrics(),
	}
}

// GetRequestState returns the state owned by the request. The request must
// be admitted; a lookup miss is a contract breach.
func (es *EngineState) GetRequestState(req *Request) *RequestState {
	rstate, ok := es.RequestStates[req.ID]
	if !ok {
		panic(fmt.Sprintf("GetRequestState: request %s has no state", req.ID))
	}
	return rstate
}

// AdmitRequest creates the request's state tree, registers it and appends
// the request to the running queue. numModels is the number of backend
// models participating in generation (>= 1; index 0 is the target model).
func (es *EngineState) AdmitRequest(req *Request, numModels int) *RequestState {
	if _, ok := es.RequestStates[req.ID]; ok {
		panic(fmt.Sprintf("AdmitRequest: request %s already admitted", req.ID))
	}
	rstate := NewRequestState(req, numModels, es.IDs, time.Now())
	es.RequestStates[req.ID] = rstate
	es.RunningQueue.Enqueue(req)
	es.RunningEntriesChanged = true
	return rstate
}

// AbortRequest marks every non-finished leaf of the request for abort
// finishing. The branches finish through the normal cascade on the next
// step; cancellation is just one more finish reason. Unknown ids are
// no-ops: the request may have finished concurrently with the caller.
func (es *EngineState) AbortRequest(requestID string) {
	rstate, ok := es.RequestStates[requestID]
	if !ok {
		return
	}
	for _, entry := range rstate.Entries {
		if entry.Status != StatusFinished && len(entry.ChildIndices) == 0 {
			entry.MarkAbort()
		}
	}
}

// ConsumeDirty reports whether the active-branch set changed since the last
// call and clears the flag. Intended to be checked once per step boundary.
func (es *EngineState) ConsumeDirty() bool {
	dirty := es.RunningEntriesChanged
	es.RunningEntriesChanged = false
	return dirty
}
