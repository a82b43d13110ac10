package host

import (
	"bytes"
	"fmt"

	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// collector accumulates the entities a module stages during one block.
// Staging order is preserved; nothing is durable until the loop commits.
type collector struct {
	budget   uint64
	used     uint64
	entities []types.Entity
}

func newCollector(budget uint64) *collector {
	return &collector{budget: budget}
}

// add appends one staged entity, charging its encoded size against the
// per-block budget.
func (c *collector) add(e *types.Entity, size int) error {
	if c.used+uint64(size) > c.budget {
		return fmt.Errorf("%w: staged %d bytes, budget %d", engine.ErrResourceExhausted, c.used+uint64(size), c.budget)
	}
	c.used += uint64(size)
	c.entities = append(c.entities, *e)
	return nil
}

// lookup returns the most recently staged entity for (typeID, key), or
// nil. The backwards scan gives read-your-own-writes the same
// last-write-wins view the commit will produce.
func (c *collector) lookup(typeID uint32, key []byte) *types.Entity {
	for i := len(c.entities) - 1; i >= 0; i-- {
		if c.entities[i].TypeID == typeID && bytes.Equal(c.entities[i].Key, key) {
			return &c.entities[i]
		}
	}
	return nil
}

// drain hands the staged entities over in staging order.
func (c *collector) drain() []types.Entity {
	staged := c.entities
	c.entities = nil
	c.used = 0
	return staged
}
