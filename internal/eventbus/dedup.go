package eventbus

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup remembers which (topic, orderId) pairs a consumer has already acted
// on, so an at-least-once redelivery of order-created cannot double-reserve
// stock. The window is bounded: entries evicted under memory pressure are
// forgotten, which is acceptable because redeliveries arrive close to the
// original.
type Dedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedup creates a guard remembering up to size keys.
func NewDedup(size int) (*Dedup, error) {
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Dedup{cache: c}, nil
}

// Seen records the pair and reports whether it was already present.
func (d *Dedup) Seen(topic, orderID string) bool {
	found, _ := d.cache.ContainsOrAdd(topic+"|"+orderID, struct{}{})
	return found
}

// Mark records the pair without reporting.
func (d *Dedup) Mark(topic, orderID string) {
	d.cache.Add(topic+"|"+orderID, struct{}{})
}

// Has reports whether the pair was recorded, without recording it.
func (d *Dedup) Has(topic, orderID string) bool {
	return d.cache.Contains(topic + "|" + orderID)
}
