package bus

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/domain/routing"
	"github.com/flightcore/softbus/internal/shared/id"
)

// SubscriptionReport tells an off-box bridge about a global subscription
// change.
type SubscriptionReport struct {
	MsgID      msg.MsgID     `json:"msg_id"`
	Pipe       id.ResourceID `json:"pipe"`
	QoS        routing.QoS   `json:"qos"`
	Subscribed bool          `json:"subscribed"`
}

// Reporter receives subscription reports. It is called without bus locks
// held and may publish on the bus.
type Reporter interface {
	ReportSubscription(r SubscriptionReport) error
}

// SetSubscriptionReporting turns subscription reports on or off. They are
// off by default.
func (b *Bus) SetSubscriptionReporting(enabled bool) {
	b.reporting.Store(enabled)
	b.log.Debug("Subscription reporting changed", zap.Bool("enabled", enabled))
}

// SubscriptionReporting reports whether subscription reports are on.
func (b *Bus) SubscriptionReporting() bool { return b.reporting.Load() }

func (b *Bus) report(r SubscriptionReport) {
	if b.reporter == nil || !b.reporting.Load() {
		return
	}
	if err := b.reporter.ReportSubscription(r); err != nil {
		b.events.emit(EventReportErr, zap.WarnLevel, "Subscription report failed",
			zap.Stringer("msg_id", r.MsgID),
			zap.Error(err),
		)
	}
}

// SendPrevSubs reports every current global subscription, regardless of the
// reporting switch. It returns how many reports were sent.
func (b *Bus) SendPrevSubs() (int, error) {
	if b.reporter == nil {
		return 0, fmt.Errorf("%w: no subscription reporter", ErrBadArgument)
	}

	var reports []SubscriptionReport
	b.mu.Lock()
	b.routes.EachRoute(func(r *routing.Route) bool {
		b.routes.EachDest(r, func(d *routing.Destination) bool {
			if d.Scope == routing.ScopeGlobal {
				reports = append(reports, SubscriptionReport{
					MsgID: r.MsgID, Pipe: d.Pipe, QoS: d.QoS, Subscribed: true,
				})
			}
			return true
		})
		return true
	})
	b.mu.Unlock()

	sent := 0
	for _, r := range reports {
		if err := b.reporter.ReportSubscription(r); err != nil {
			return sent, fmt.Errorf("report %d of %d: %w", sent+1, len(reports), err)
		}
		sent++
	}
	return sent, nil
}

// ReportPayloadSize is the payload length of an encoded SubscriptionReport.
const ReportPayloadSize = 12

// EncodeReport writes r as a big-endian payload:
// msg id (4) | pipe (4) | priority (1) | reliability (1) | subscribed (1) | pad (1).
func EncodeReport(r SubscriptionReport) []byte {
	p := make([]byte, ReportPayloadSize)
	binary.BigEndian.PutUint32(p[0:4], r.MsgID.Value())
	binary.BigEndian.PutUint32(p[4:8], r.Pipe.Value())
	p[8] = r.QoS.Priority
	p[9] = r.QoS.Reliability
	if r.Subscribed {
		p[10] = 1
	}
	return p
}

// DecodeReport parses a payload written by EncodeReport.
func DecodeReport(p []byte) (SubscriptionReport, error) {
	if len(p) < ReportPayloadSize {
		return SubscriptionReport{}, fmt.Errorf("%w: report payload %d bytes", ErrBadArgument, len(p))
	}
	return SubscriptionReport{
		MsgID:      msg.FromValue(binary.BigEndian.Uint32(p[0:4])),
		Pipe:       id.ResourceID(binary.BigEndian.Uint32(p[4:8])),
		QoS:        routing.QoS{Priority: p[8], Reliability: p[9]},
		Subscribed: p[10] == 1,
	}, nil
}

// busReporter publishes reports on the bus itself.
type busReporter struct {
	bus   *Bus
	msgID msg.MsgID
}

func (r *busReporter) ReportSubscription(rep SubscriptionReport) error {
	m, err := msg.Build(r.bus.codec, r.msgID, EncodeReport(rep))
	if err != nil {
		return err
	}
	_, err = r.bus.TransmitMsg(SelfTask, m, true)
	return err
}
