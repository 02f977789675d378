package metrics

import (
	"time"

	"github.com/webpods-org/webpods/pkg/storage"
)

// Collector refreshes the catalog gauges from the store on an interval,
// so counts survive restarts and never drift from reality.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a collector over the store
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	pods, err := c.store.ListPods()
	if err != nil {
		return
	}
	PodsTotal.Set(float64(len(pods)))

	streams := 0
	for _, pod := range pods {
		list, err := c.store.ListStreams(pod.Name)
		if err != nil {
			continue
		}
		streams += len(list)
	}
	StreamsTotal.Set(float64(streams))
}
