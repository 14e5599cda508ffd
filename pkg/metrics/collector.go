package metrics

import "time"

// DeviceSample is the subset of resourcemanager.DeviceInfo a Collector
// needs; declared here rather than imported so this package stays free of
// a dependency on resourcemanager (which already imports metrics).
type DeviceSample struct {
	Name         string
	ComputeUnits int
}

// Collector periodically refreshes gauges that aren't naturally updated by
// an event. Resource manager counters update inline on every allocate and
// release; device capability gauges only change when hardware does, so a
// ticker samples them instead of wiring a callback into the backend.
type Collector struct {
	devices func() []DeviceSample
	stopCh  chan struct{}
}

// NewCollector creates a collector that polls deviceInfoFn for the current
// set of enumerated devices on each tick.
func NewCollector(deviceInfoFn func() []DeviceSample) *Collector {
	return &Collector{
		devices: deviceInfoFn,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
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
	if c.devices == nil {
		return
	}
	for _, d := range c.devices() {
		DeviceComputeUnits.WithLabelValues(d.Name).Set(float64(d.ComputeUnits))
	}
}
