package reports

import "utp-reporta/core/store"

type Event string

const (
	EventDispatch Event = "dispatch"
	EventArrive   Event = "arrive"
	EventComplete Event = "complete"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventCancel   Event = "cancel"
	// EventUpdate keeps the state and only touches priority or assignment.
	EventUpdate Event = "update"
)

var transitions = map[store.ReportState]map[Event]store.ReportState{
	store.StatePending: {
		EventDispatch: store.StateLocating,
	},
	store.StateLocating: {
		EventArrive: store.StateInvestigating,
	},
	store.StateInvestigating: {
		EventComplete: store.StateAwaitingApproval,
	},
	store.StateAwaitingApproval: {
		EventApprove: store.StateResolved,
		EventReject:  store.StateInvestigating,
	},
}

// Next returns the state ev leads to from from.
func Next(from store.ReportState, ev Event) (store.ReportState, bool) {
	if from.Terminal() {
		return "", false
	}
	switch ev {
	case EventCancel:
		return store.StateCancelled, true
	case EventUpdate:
		return from, true
	}
	to, ok := transitions[from][ev]
	return to, ok
}

// EventFor finds the event moving from to to, preferring the forward edge.
func EventFor(from, to store.ReportState) (Event, bool) {
	if from.Terminal() {
		return "", false
	}
	if from == to {
		return EventUpdate, true
	}
	if to == store.StateCancelled {
		return EventCancel, true
	}
	for _, ev := range []Event{EventDispatch, EventArrive, EventComplete, EventApprove, EventReject} {
		if next, ok := transitions[from][ev]; ok && next == to {
			return ev, true
		}
	}
	return "", false
}
