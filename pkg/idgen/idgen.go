// Package idgen generates time-ordered activity IDs.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// MaxNodeID is the largest node ID supported by the default snowflake layout.
const MaxNodeID = 1023

// Generator hands out unique int64 IDs. Safe for concurrent use.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for the given node.
func New(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("snowflake node id must be between 0 and %d, got %d", MaxNodeID, nodeID)
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &Generator{node: node}, nil
}

// Next returns a new ID.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// NodeOf extracts the node ID an ID was generated on.
func NodeOf(id int64) int64 {
	return snowflake.ParseInt64(id).Node()
}
