package task

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flightcore/softbus/internal/domain/bus"
	"github.com/flightcore/softbus/internal/domain/msg"
)

// Well-known MsgIDs of the bus task.
const (
	CmdMsgID    msg.MsgID = 0x1803
	SendHKMsgID msg.MsgID = 0x180B
	HKMsgID     msg.MsgID = 0x0803
	StatsMsgID  msg.MsgID = 0x080A
)

// FunctionCode selects a bus task command.
type FunctionCode uint8

const (
	FcNoop FunctionCode = iota
	FcResetCounters
	FcSendStats
	FcWriteRoutingInfo
	FcEnableRoute
	FcDisableRoute
	FcWritePipeInfo
	FcWriteMapInfo
	FcEnableSubReporting
	FcDisableSubReporting
	FcSendPrevSubs
)

var fcNames = [...]string{
	FcNoop:                "noop",
	FcResetCounters:       "reset_counters",
	FcSendStats:           "send_stats",
	FcWriteRoutingInfo:    "write_routing_info",
	FcEnableRoute:         "enable_route",
	FcDisableRoute:        "disable_route",
	FcWritePipeInfo:       "write_pipe_info",
	FcWriteMapInfo:        "write_map_info",
	FcEnableSubReporting:  "enable_sub_reporting",
	FcDisableSubReporting: "disable_sub_reporting",
	FcSendPrevSubs:        "send_prev_subs",
}

func (fc FunctionCode) String() string {
	if int(fc) < len(fcNames) {
		return fcNames[fc]
	}
	return fmt.Sprintf("fc_%d", uint8(fc))
}

// A command payload is function code, checksum, then arguments.
const (
	cmdHeaderLen = 2
	// FileNameLen is the fixed, NUL-padded file name argument.
	FileNameLen = 64
	routeArgsLen = 8
)

// argLen is the exact argument length each function code accepts.
func argLen(fc FunctionCode) (int, bool) {
	switch fc {
	case FcNoop, FcResetCounters, FcSendStats, FcEnableSubReporting, FcDisableSubReporting, FcSendPrevSubs:
		return 0, true
	case FcWriteRoutingInfo, FcWritePipeInfo, FcWriteMapInfo:
		return FileNameLen, true
	case FcEnableRoute, FcDisableRoute:
		return routeArgsLen, true
	}
	return 0, false
}

// BuildCommand encodes a bus task command message.
func BuildCommand(c msg.Codec, fc FunctionCode, args []byte) ([]byte, error) {
	payload := make([]byte, cmdHeaderLen+len(args))
	payload[0] = byte(fc)
	copy(payload[cmdHeaderLen:], args)
	return msg.Build(c, CmdMsgID, payload)
}

// FileNameArg encodes name as a file name argument.
func FileNameArg(name string) ([]byte, error) {
	if len(name) >= FileNameLen {
		return nil, fmt.Errorf("file name %q longer than %d bytes", name, FileNameLen-1)
	}
	arg := make([]byte, FileNameLen)
	copy(arg, name)
	return arg, nil
}

func parseFileName(arg []byte) string {
	if i := bytes.IndexByte(arg, 0); i >= 0 {
		arg = arg[:i]
	}
	return string(arg)
}

// RouteArg encodes the argument of the enable and disable route commands.
func RouteArg(m msg.MsgID, pipe uint32) []byte {
	arg := make([]byte, routeArgsLen)
	binary.BigEndian.PutUint32(arg[0:4], m.Value())
	binary.BigEndian.PutUint32(arg[4:8], pipe)
	return arg
}

// HK is the housekeeping telemetry payload.
type HK struct {
	CommandCounter         uint8
	CommandErrorCounter    uint8
	Spare                  uint16
	NoSubscribers          uint32
	DuplicateSubscriptions uint32
	MsgSendError           uint32
	MsgReceiveError        uint32
	InternalError          uint32
	CreatePipeError        uint32
	SubscribeError         uint32
	PipeOptsError          uint32
	PipeOverflowError      uint32
	MsgLimitError          uint32
	MemInUse               uint32
	UnmarkedMem            uint32
}

// StatsPacket is the statistics telemetry payload.
type StatsPacket struct {
	MsgIDsInUse            uint32
	PeakMsgIDsInUse        uint32
	MaxMsgIDs              uint32
	PipesInUse             uint32
	PeakPipesInUse         uint32
	MaxPipes               uint32
	SubscriptionsInUse     uint32
	PeakSubscriptionsInUse uint32
	MaxSubscriptions       uint32
	BuffersInUse           uint32
	PeakBuffersInUse       uint32
	MemInUse               uint32
	PeakMemInUse           uint32
	MaxMem                 uint32
}

func newStatsPacket(s bus.Stats) StatsPacket {
	return StatsPacket{
		MsgIDsInUse:            uint32(s.MsgIDsInUse),
		PeakMsgIDsInUse:        uint32(s.PeakMsgIDsInUse),
		MaxMsgIDs:              uint32(s.MaxMsgIDs),
		PipesInUse:             uint32(s.PipesInUse),
		PeakPipesInUse:         uint32(s.PeakPipesInUse),
		MaxPipes:               uint32(s.MaxPipes),
		SubscriptionsInUse:     uint32(s.SubscriptionsInUse),
		PeakSubscriptionsInUse: uint32(s.PeakSubscriptionsInUse),
		MaxSubscriptions:       uint32(s.MaxSubscriptions),
		BuffersInUse:           uint32(s.BuffersInUse),
		PeakBuffersInUse:       uint32(s.PeakBuffersInUse),
		MemInUse:               uint32(s.MemInUse),
		PeakMemInUse:           uint32(s.PeakMemInUse),
		MaxMem:                 uint32(s.MaxMem),
	}
}

// Encode packs a fixed-layout packet big-endian.
func Encode[P HK | StatsPacket](p P) []byte {
	var buf bytes.Buffer
	buf.Grow(binary.Size(p))
	// Fixed-size fields only; Write cannot fail on a bytes.Buffer.
	_ = binary.Write(&buf, binary.BigEndian, p)
	return buf.Bytes()
}

// Decode unpacks a payload produced by Encode.
func Decode[P HK | StatsPacket](payload []byte) (P, error) {
	var p P
	if n := binary.Size(p); len(payload) < n {
		return p, fmt.Errorf("payload %d bytes, want %d", len(payload), n)
	}
	err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &p)
	return p, err
}
