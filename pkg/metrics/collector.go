package metrics

import (
	"time"

	"github.com/cuemby/vertexdb/pkg/isolation"
	"github.com/cuemby/vertexdb/pkg/planner/statistics"
)

// Collector periodically samples the isolation manager's watermark and the
// statistics store's instance counts into the package's gauges, the same
// poll-on-a-ticker shape the teacher's cluster collector used for node/
// service counts.
type Collector struct {
	iso    *isolation.Manager
	stats  *statistics.Store
	stopCh chan struct{}
}

// NewCollector returns a Collector sampling iso's watermark and stats'
// instance counts. stats may be nil to skip instance-count collection.
func NewCollector(iso *isolation.Manager, stats *statistics.Store) *Collector {
	return &Collector{iso: iso, stats: stats, stopCh: make(chan struct{})}
}

// Start begins collecting metrics on a 15-second ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.iso != nil {
		Watermark.Set(float64(c.iso.Watermark()))
	}
	if c.stats != nil {
		total := 0.0
		for _, count := range c.stats.Dump() {
			total += float64(count)
		}
		InstancesTotal.WithLabelValues("all").Set(total)
	}
}
