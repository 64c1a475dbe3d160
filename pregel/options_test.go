package pregel

import (
	"testing"
	"time"
)

func TestDefaultLoopConfig_Values(t *testing.T) {
	c := defaultLoopConfig()
	if c.maxConcurrentTasks != 8 {
		t.Errorf("maxConcurrentTasks = %d, want 8", c.maxConcurrentTasks)
	}
	if c.defaultNodeTimeout != 30*time.Second {
		t.Errorf("defaultNodeTimeout = %v, want 30s", c.defaultNodeTimeout)
	}
	if c.recursionLimit != 25 {
		t.Errorf("recursionLimit = %d, want 25", c.recursionLimit)
	}
	if c.emitter == nil {
		t.Error("expected a default non-nil emitter")
	}
}

func TestWithMaxConcurrentTasks_RejectsLessThanOne(t *testing.T) {
	c := defaultLoopConfig()
	if err := WithMaxConcurrentTasks(0)(&c); err == nil {
		t.Fatal("expected error for n < 1")
	}
}

func TestWithMaxConcurrentTasks_AppliesValue(t *testing.T) {
	c := defaultLoopConfig()
	if err := WithMaxConcurrentTasks(16)(&c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.maxConcurrentTasks != 16 {
		t.Errorf("maxConcurrentTasks = %d, want 16", c.maxConcurrentTasks)
	}
}

func TestWithMaxSteps_AppliesValue(t *testing.T) {
	c := defaultLoopConfig()
	WithMaxSteps(42)(&c)
	if c.maxSteps != 42 {
		t.Errorf("maxSteps = %d, want 42", c.maxSteps)
	}
}

func TestWithDefaultNodeTimeout_AppliesValue(t *testing.T) {
	c := defaultLoopConfig()
	WithDefaultNodeTimeout(5 * time.Second)(&c)
	if c.defaultNodeTimeout != 5*time.Second {
		t.Errorf("defaultNodeTimeout = %v, want 5s", c.defaultNodeTimeout)
	}
}

func TestWithRecursionLimit_AppliesValue(t *testing.T) {
	c := defaultLoopConfig()
	WithRecursionLimit(100)(&c)
	if c.recursionLimit != 100 {
		t.Errorf("recursionLimit = %d, want 100", c.recursionLimit)
	}
}

func TestWithSeededBackoff_AttachesDeterministicRNG(t *testing.T) {
	c := defaultLoopConfig()
	WithSeededBackoff(7)(&c)
	if c.rng == nil {
		t.Fatal("expected rng to be set")
	}
}
