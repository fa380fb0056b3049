package idgen

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out client ids for queued trips. Ids are time ordered and
// carry the node number, so they stay unique across restarts of the same device.
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator whose node number is derived from deviceID
func NewGenerator(deviceID string) (*Generator, error) {
	node, err := snowflake.NewNode(nodeNumber(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// NewClientID returns a new base36 client id
func (g *Generator) NewClientID() string {
	return g.node.Generate().Base36()
}

func nodeNumber(deviceID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int64(h.Sum32() % 1024)
}

// Placeholders issues unique negative ids for trips that have no server id
type Placeholders struct {
	n atomic.Int64
}

// Next returns -1, -2, ...
func (p *Placeholders) Next() int64 {
	return -p.n.Add(1)
}
