package pregel

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_RecordingMethodsDoNotPanic(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetInflightTasks(3)
	m.RecordTaskLatency("n", 10*time.Millisecond, "success")
	m.IncrementRetries("n")
	m.IncrementInterrupts("n")
	m.IncrementCheckpoints("loop")
}

func TestMetrics_DisableSuppressesRecording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Disable()

	// None of these should panic even while disabled; isEnabled() short-
	// circuits before touching the underlying collectors.
	m.SetInflightTasks(1)
	m.RecordTaskLatency("n", time.Millisecond, "success")
	m.IncrementRetries("n")
	m.IncrementInterrupts("n")
	m.IncrementCheckpoints("loop")

	m.Enable()
	m.IncrementRetries("n")
}

func TestSummarizeCheckpointSize_HumanReadable(t *testing.T) {
	got := SummarizeCheckpointSize(2048)
	if got == "" {
		t.Fatal("expected a non-empty human-readable size")
	}
}
