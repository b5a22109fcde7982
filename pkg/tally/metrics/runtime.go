package metrics

import (
	"runtime"
	"time"
)

// RuntimeMetrics is the subset of Go runtime statistics reported by the
// health endpoint.
type RuntimeMetrics struct {
	HeapAlloc    uint64    `json:"heap_alloc"`
	HeapObjects  uint64    `json:"heap_objects"`
	Sys          uint64    `json:"sys"`
	NumGC        uint32    `json:"num_gc"`
	NumGoroutine int       `json:"num_goroutine"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReadRuntime takes a runtime snapshot. It stops the world briefly, so call it
// per health request rather than per evaluation.
func ReadRuntime() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeMetrics{
		HeapAlloc:    m.HeapAlloc,
		HeapObjects:  m.HeapObjects,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		Timestamp:    time.Now(),
	}
}
