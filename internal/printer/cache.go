package printer

import (
	"context"
	"fmt"
	"sync"
)

// Factory builds a driver for a printer id.
type Factory func(id string) (Driver, error)

// Cache shares one driver per printer between the scheduler's status
// polls and the executors. A single mutex guards the map; the drivers
// themselves serialize internally.
type Cache struct {
	mu      sync.Mutex
	drivers map[string]Driver
	factory Factory
}

// NewCache creates a driver cache over a factory.
func NewCache(factory Factory) *Cache {
	return &Cache{drivers: make(map[string]Driver), factory: factory}
}

// Get returns a connected driver for the printer, creating and
// reconnecting as needed.
func (c *Cache) Get(ctx context.Context, id string) (Driver, error) {
	c.mu.Lock()
	driver, ok := c.drivers[id]
	if !ok {
		var err error
		driver, err = c.factory(id)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("create driver for %s: %w", id, err)
		}
		c.drivers[id] = driver
	}
	c.mu.Unlock()

	if !driver.IsConnected() {
		if err := driver.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", id, err)
		}
	}
	return driver, nil
}

// IDs returns the cached printer identifiers.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.drivers))
	for id := range c.drivers {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects and drops every cached driver.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, driver := range c.drivers {
		if err := driver.Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnect %s: %w", id, err)
		}
		delete(c.drivers, id)
	}
	return firstErr
}
