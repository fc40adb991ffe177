package bus

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// Subscribe routes m to a pipe owned by owner with the default message limit.
func (b *Bus) Subscribe(owner id.TaskID, m msg.MsgID, pid id.ResourceID) error {
	return b.subscribe(owner, m, pid, routing.QoS{}, b.cfg.DefaultMsgLimit, routing.ScopeGlobal)
}

// SubscribeEx is Subscribe with an explicit QoS and message limit. QoS is
// recorded and reported but does not change delivery.
func (b *Bus) SubscribeEx(owner id.TaskID, m msg.MsgID, pid id.ResourceID, qos routing.QoS, limit int) error {
	return b.subscribe(owner, m, pid, qos, limit, routing.ScopeGlobal)
}

// SubscribeLocal subscribes without sending a subscription report.
func (b *Bus) SubscribeLocal(owner id.TaskID, m msg.MsgID, pid id.ResourceID, limit int) error {
	return b.subscribe(owner, m, pid, routing.QoS{}, limit, routing.ScopeLocal)
}

func (b *Bus) subscribe(owner id.TaskID, m msg.MsgID, pid id.ResourceID, qos routing.QoS, limit int, scope routing.Scope) error {
	res, name, err := b.addSubscription(owner, m, pid, qos, limit, scope)
	if b.metrics != nil {
		b.metrics.RecordSubscription("subscribe", StatusOf(err).String())
	}
	if err != nil {
		b.counters.subscribeError.Add(1)
		b.events.emit(EventSubscribeErr, zap.ErrorLevel, "Subscribe failed",
			zap.String("task", owner.String()),
			zap.Stringer("msg_id", m),
			zap.Stringer("pipe", pid),
			zap.Error(err),
		)
		return err
	}

	if res.Duplicate {
		b.counters.duplicateSubscriptions.Add(1)
		b.events.emit(EventDupSubscription, zap.InfoLevel, "Duplicate subscription",
			zap.Stringer("msg_id", m),
			zap.String("pipe_name", name),
			zap.Int("msg_limit", limit),
		)
		return nil
	}

	b.events.emit(EventSubscribed, zap.DebugLevel, "Subscription added",
		zap.Stringer("msg_id", m),
		zap.String("pipe_name", name),
		zap.Stringer("scope", scope),
		zap.Int("msg_limit", limit),
		zap.Int("destinations", res.DestCount),
	)

	if scope == routing.ScopeGlobal {
		b.report(SubscriptionReport{MsgID: m, Pipe: pid, QoS: qos, Subscribed: true})
	}
	return nil
}

func (b *Bus) addSubscription(owner id.TaskID, m msg.MsgID, pid id.ResourceID, qos routing.QoS, limit int, scope routing.Scope) (routing.SubscribeResult, string, error) {
	if !b.rng.Contains(m) {
		return routing.SubscribeResult{}, "", fmt.Errorf("%w: msg id %s out of range", ErrBadArgument, m)
	}
	if limit <= 0 || limit > math.MaxUint16 {
		return routing.SubscribeResult{}, "", fmt.Errorf("%w: msg limit %d", ErrBadArgument, limit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.ownedPipeLocked(owner, pid)
	if err != nil {
		return routing.SubscribeResult{}, "", err
	}

	res, err := b.routes.Subscribe(m, pid, limit, scope, qos)
	switch {
	case errors.Is(err, routing.ErrMaxRoutes):
		return res, p.Name, fmt.Errorf("%w: %w", ErrMaxMsgsMet, err)
	case errors.Is(err, routing.ErrMaxDests):
		return res, p.Name, fmt.Errorf("%w: %w", ErrMaxDestsMet, err)
	case errors.Is(err, routing.ErrNodePool):
		return res, p.Name, fmt.Errorf("%w: %w", ErrBufferAlloc, err)
	case err != nil:
		return res, p.Name, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	b.trackPeaksLocked()
	return res, p.Name, nil
}

// Unsubscribe removes m from a pipe owned by owner. Removing a subscription
// that does not exist is logged and succeeds.
func (b *Bus) Unsubscribe(owner id.TaskID, m msg.MsgID, pid id.ResourceID) error {
	return b.unsubscribe(owner, m, pid, routing.ScopeGlobal)
}

// UnsubscribeLocal is Unsubscribe without a subscription report.
func (b *Bus) UnsubscribeLocal(owner id.TaskID, m msg.MsgID, pid id.ResourceID) error {
	return b.unsubscribe(owner, m, pid, routing.ScopeLocal)
}

func (b *Bus) unsubscribe(owner id.TaskID, m msg.MsgID, pid id.ResourceID, scope routing.Scope) error {
	removed, name, err := b.removeSubscription(owner, m, pid)
	if b.metrics != nil {
		b.metrics.RecordSubscription("unsubscribe", StatusOf(err).String())
	}
	if err != nil {
		b.events.emit(EventUnsubscribeErr, zap.ErrorLevel, "Unsubscribe failed",
			zap.String("task", owner.String()),
			zap.Stringer("msg_id", m),
			zap.Stringer("pipe", pid),
			zap.Error(err),
		)
		return err
	}
	if !removed {
		b.events.emit(EventUnsubscribeNoSubs, zap.InfoLevel, "Unsubscribe: no subscription to remove",
			zap.Stringer("msg_id", m),
			zap.String("pipe_name", name),
		)
		return nil
	}

	b.events.emit(EventUnsubscribed, zap.DebugLevel, "Subscription removed",
		zap.Stringer("msg_id", m),
		zap.String("pipe_name", name),
		zap.Stringer("scope", scope),
	)
	if scope == routing.ScopeGlobal {
		b.report(SubscriptionReport{MsgID: m, Pipe: pid, Subscribed: false})
	}
	return nil
}

func (b *Bus) removeSubscription(owner id.TaskID, m msg.MsgID, pid id.ResourceID) (bool, string, error) {
	if !b.rng.Contains(m) {
		return false, "", fmt.Errorf("%w: msg id %s out of range", ErrBadArgument, m)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.ownedPipeLocked(owner, pid)
	if err != nil {
		return false, "", err
	}
	if _, err := b.routes.Unsubscribe(m, pid); err != nil {
		if errors.Is(err, routing.ErrNoRoute) || errors.Is(err, routing.ErrNoDest) {
			return false, p.Name, nil
		}
		return false, p.Name, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return true, p.Name, nil
}

// EnableRoute re-enables delivery of m to pid.
func (b *Bus) EnableRoute(m msg.MsgID, pid id.ResourceID) error {
	return b.setRouteActive(m, pid, true)
}

// DisableRoute stops delivery of m to pid without removing the subscription.
func (b *Bus) DisableRoute(m msg.MsgID, pid id.ResourceID) error {
	return b.setRouteActive(m, pid, false)
}

func (b *Bus) setRouteActive(m msg.MsgID, pid id.ResourceID, active bool) error {
	err := func() error {
		if !b.rng.Contains(m) {
			return fmt.Errorf("%w: msg id %s out of range", ErrBadArgument, m)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.pipes.Get(pid); !ok {
			return fmt.Errorf("%w: unknown pipe %s", ErrBadArgument, pid)
		}
		d, ok := b.routes.Find(m, pid)
		if !ok {
			return fmt.Errorf("%w: no route for %s to pipe %s", ErrBadArgument, m, pid)
		}
		d.Active = active
		return nil
	}()
	if err != nil {
		b.events.emit(EventRouteToggleErr, zap.ErrorLevel, "Route enable/disable failed",
			zap.Stringer("msg_id", m),
			zap.Stringer("pipe", pid),
			zap.Bool("active", active),
			zap.Error(err),
		)
		return err
	}
	b.events.emit(EventRouteToggled, zap.DebugLevel, "Route toggled",
		zap.Stringer("msg_id", m),
		zap.Stringer("pipe", pid),
		zap.Bool("active", active),
	)
	return nil
}
