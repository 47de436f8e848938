package observability

import (
	"sync"
	"time"
)

// cardinalityLimiter caps the number of distinct label values recorded per
// metric label, collapsing overflow into "other". Adapted from the
// teacher's telemetry/cardinality.go sync.Map-of-sync.Map shape.
type cardinalityLimiter struct {
	limits map[string]int
	seen   sync.Map // label -> *sync.Map of value -> time.Time

	stopChan chan struct{}
	stopped  sync.Once
}

func newCardinalityLimiter(limits map[string]int) *cardinalityLimiter {
	c := &cardinalityLimiter{
		limits:   limits,
		stopChan: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *cardinalityLimiter) checkAndLimit(metricName, label, value string) string {
	limit, hasLimit := c.limits[label]
	if !hasLimit {
		return value
	}

	key := metricName + "." + label
	valMapI, _ := c.seen.LoadOrStore(key, &sync.Map{})
	valMap := valMapI.(*sync.Map)

	if _, exists := valMap.Load(value); exists {
		valMap.Store(value, time.Now())
		return value
	}

	count := 0
	valMap.Range(func(k, v interface{}) bool {
		count++
		return true
	})
	if count >= limit {
		return "other"
	}
	valMap.Store(value, time.Now())
	return value
}

func (c *cardinalityLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *cardinalityLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	c.seen.Range(func(_, valMapI interface{}) bool {
		valMap := valMapI.(*sync.Map)
		valMap.Range(func(val, ts interface{}) bool {
			if ts.(time.Time).Before(cutoff) {
				valMap.Delete(val)
			}
			return true
		})
		return true
	})
}

func (c *cardinalityLimiter) stop() {
	c.stopped.Do(func() { close(c.stopChan) })
}
