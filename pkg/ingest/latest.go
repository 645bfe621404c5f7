package ingest

import "github.com/NotCoffee418/sml_power_meter/pkg/types"

// Get returns the latest reading and whether one has been published yet.
func (l *LatestReading) Get() (types.MeterReading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reading, l.set
}

func (l *LatestReading) store(r types.MeterReading) {
	l.mu.Lock()
	l.reading = r
	l.set = true
	l.mu.Unlock()
}
