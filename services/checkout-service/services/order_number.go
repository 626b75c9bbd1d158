package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// OrderNumberGenerator produces the externally visible order number.
type OrderNumberGenerator interface {
	Next(now time.Time) string
}

// SnowflakeOrderNumbers yields numbers like ORD-20261019-2J7K1D8Q0V0G. The
// snowflake part is unique per node, so collisions need two processes sharing
// a node id; the unique index on main_orders still catches those.
type SnowflakeOrderNumbers struct {
	node *snowflake.Node
}

func NewSnowflakeOrderNumbers(nodeID int64) (*SnowflakeOrderNumbers, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeOrderNumbers{node: node}, nil
}

func (g *SnowflakeOrderNumbers) Next(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(g.node.Generate().Base36()))
}
