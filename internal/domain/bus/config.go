package bus

import (
	"fmt"

	"github.com/flightcore/softbus/internal/domain/buffer"
	"github.com/flightcore/softbus/internal/domain/msg"
	"github.com/flightcore/softbus/internal/shared/id"
)

// Config holds the bus limits. All tables are sized from it at New.
type Config struct {
	MaxMsgIDs         int
	MaxPipes          int
	MaxDestPerMsg     int
	DefaultMsgLimit   int
	BufMemoryBytes    int
	HighestValidMsgID msg.MsgID
	MaxMsgSize        int
	MaxPipeDepth      int
	MaxPipeNameLen    int
	BlockSizes        []int

	// SubReportMsgID is where the built-in reporter publishes subscription
	// reports. InvalidMsgID disables it.
	SubReportMsgID msg.MsgID
}

// DefaultConfig returns the stock platform limits.
func DefaultConfig() Config {
	return Config{
		MaxMsgIDs:         256,
		MaxPipes:          64,
		MaxDestPerMsg:     16,
		DefaultMsgLimit:   4,
		BufMemoryBytes:    524288,
		HighestValidMsgID: msg.DefaultHighestValid,
		MaxMsgSize:        32768,
		MaxPipeDepth:      256,
		MaxPipeNameLen:    20,
		BlockSizes:        buffer.DefaultBlockSizes,
		SubReportMsgID:    0x080E,
	}
}

// Validate checks the limits for internal consistency.
func (c Config) Validate() error {
	switch {
	case c.MaxMsgIDs <= 0 || c.MaxMsgIDs > id.MaxSlots:
		return fmt.Errorf("max msg ids must be in [1, %d], got %d", id.MaxSlots, c.MaxMsgIDs)
	case c.MaxPipes <= 0 || c.MaxPipes > id.MaxSlots:
		return fmt.Errorf("max pipes must be in [1, %d], got %d", id.MaxSlots, c.MaxPipes)
	case c.MaxDestPerMsg <= 0:
		return fmt.Errorf("max destinations per msg must be positive, got %d", c.MaxDestPerMsg)
	case c.MaxMsgIDs*c.MaxDestPerMsg > id.MaxSlots:
		return fmt.Errorf("max msg ids * max destinations per msg must be at most %d, got %d",
			id.MaxSlots, c.MaxMsgIDs*c.MaxDestPerMsg)
	case c.DefaultMsgLimit <= 0:
		return fmt.Errorf("default msg limit must be positive, got %d", c.DefaultMsgLimit)
	case c.BufMemoryBytes <= 0:
		return fmt.Errorf("buffer memory must be positive, got %d", c.BufMemoryBytes)
	case c.HighestValidMsgID == msg.InvalidMsgID:
		return fmt.Errorf("highest valid msg id cannot be the invalid sentinel")
	case c.MaxMsgSize <= 0:
		return fmt.Errorf("max msg size must be positive, got %d", c.MaxMsgSize)
	case c.MaxPipeDepth <= 0:
		return fmt.Errorf("max pipe depth must be positive, got %d", c.MaxPipeDepth)
	case c.MaxPipeNameLen <= 0:
		return fmt.Errorf("max pipe name length must be positive, got %d", c.MaxPipeNameLen)
	}
	return nil
}

// blockSizes returns the configured classes plus one class large enough for
// the biggest message.
func (c Config) blockSizes() []int {
	sizes := c.BlockSizes
	if len(sizes) == 0 {
		sizes = buffer.DefaultBlockSizes
	}
	out := append([]int(nil), sizes...)
	largest := 0
	for _, s := range out {
		largest = max(largest, s)
	}
	if largest < c.MaxMsgSize {
		out = append(out, c.MaxMsgSize)
	}
	return out
}
