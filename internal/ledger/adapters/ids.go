package adapters

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"

	"chatgem/internal/ledger/ports"
)

// OrderIDPrefix marks order ids issued by this service.
const OrderIDPrefix = "order_"

// KSUIDOrderIDs issues order ids from a timestamp plus 128 random bits.
type KSUIDOrderIDs struct{}

// NewOrderID returns a fresh order id.
func (KSUIDOrderIDs) NewOrderID() string {
	return OrderIDPrefix + ksuid.New().String()
}

// SnowflakeEventIDs issues time-ordered payment event ids for one node.
type SnowflakeEventIDs struct {
	node *snowflake.Node
}

// NewSnowflakeEventIDs builds a generator for nodeID (0-1023).
func NewSnowflakeEventIDs(nodeID int64) (*SnowflakeEventIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeEventIDs{node: node}, nil
}

// NextID returns the next event id.
func (g *SnowflakeEventIDs) NextID() int64 {
	return g.node.Generate().Int64()
}

var (
	_ ports.OrderIDGenerator = KSUIDOrderIDs{}
	_ ports.EventIDGenerator = (*SnowflakeEventIDs)(nil)
)
