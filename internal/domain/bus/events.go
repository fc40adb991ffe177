package bus

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/flightcore/softbus/internal/infrastructure/logging"
)

// Event identifies a bus log event.
type Event uint16

const (
	EventInit Event = iota + 1
	EventPipeCreated
	EventPipeCreateErr
	EventPipeDeleted
	EventPipeDeleteErr
	EventPipeOptsSet
	EventPipeOptsErr
	EventSubscribed
	EventSubscribeErr
	EventDupSubscription
	EventUnsubscribed
	EventUnsubscribeNoSubs
	EventUnsubscribeErr
	EventNoSubscribers
	EventMsgLimit
	EventPipeOverflow
	EventTransmitErr
	EventReceiveErr
	EventRouteToggled
	EventRouteToggleErr
	EventReportErr
	EventCleanUp
	EventInternal
)

var eventNames = map[Event]string{
	EventInit:              "init",
	EventPipeCreated:       "pipe_created",
	EventPipeCreateErr:     "pipe_create_error",
	EventPipeDeleted:       "pipe_deleted",
	EventPipeDeleteErr:     "pipe_delete_error",
	EventPipeOptsSet:       "pipe_opts_set",
	EventPipeOptsErr:       "pipe_opts_error",
	EventSubscribed:        "subscribed",
	EventSubscribeErr:      "subscribe_error",
	EventDupSubscription:   "duplicate_subscription",
	EventUnsubscribed:      "unsubscribed",
	EventUnsubscribeNoSubs: "unsubscribe_no_subscription",
	EventUnsubscribeErr:    "unsubscribe_error",
	EventNoSubscribers:     "no_subscribers",
	EventMsgLimit:          "msg_limit",
	EventPipeOverflow:      "pipe_overflow",
	EventTransmitErr:       "transmit_error",
	EventReceiveErr:        "receive_error",
	EventRouteToggled:      "route_toggled",
	EventRouteToggleErr:    "route_toggle_error",
	EventReportErr:         "report_error",
	EventCleanUp:           "cleanup",
	EventInternal:          "internal_error",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

// filterBudget is how many times a noisy event is logged before it is
// suppressed until the next counter reset.
var filterBudget = map[Event]int{
	EventNoSubscribers:     4,
	EventDupSubscription:   4,
	EventUnsubscribeNoSubs: 4,
	EventMsgLimit:          16,
	EventPipeOverflow:      16,
}

type eventLog struct {
	logger *logging.Logger

	mu       sync.RWMutex
	limiters map[Event]*rate.Limiter
}

func newEventLog(logger *logging.Logger) *eventLog {
	e := &eventLog{logger: logger}
	e.reset()
	return e
}

// reset re-arms every filter.
func (e *eventLog) reset() {
	limiters := make(map[Event]*rate.Limiter, len(filterBudget))
	for ev, n := range filterBudget {
		// Zero refill rate: the burst is the whole budget.
		limiters[ev] = rate.NewLimiter(0, n)
	}
	e.mu.Lock()
	e.limiters = limiters
	e.mu.Unlock()
}

func (e *eventLog) emit(ev Event, level zapcore.Level, message string, fields ...zap.Field) {
	ce := e.logger.Check(level, message)
	if ce == nil {
		return
	}

	e.mu.RLock()
	lim := e.limiters[ev]
	e.mu.RUnlock()
	if lim != nil && !lim.Allow() {
		return
	}

	ce.Write(append(fields, zap.Stringer("event", ev))...)
}
