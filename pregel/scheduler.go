package pregel

import (
	"context"
	"sync"

	"github.com/flowforge/pregel/pregel/checkpoint"
)

// plannedTask is an intermediate, pre-Task description produced while
// planning a superstep, before a content-addressed ID can be assigned (the
// ID needs the checkpoint ID and step number, both known only once planning
// starts).
type plannedTask struct {
	node  *NodeSpec
	path  Path
	input any
}

// planTasks computes the full set of tasks due to run in the next superstep:
// pull tasks from channels whose version has advanced past what the node
// last saw (spec §4.3 step 3), plus push tasks from the checkpoint's pending
// sends (spec §4.3 step 2). Pull tasks are returned ordered by trigger
// channel name, then by node name within a channel, for deterministic
// dispatch order; push tasks follow, in their recorded order.
func planTasks(graph *CompiledGraph, channels map[string]Channel, channelVersions map[string]string, versionsSeen map[string]map[string]string, pendingSends []checkpoint.PendingSend) []plannedTask {
	var tasks []plannedTask

	for _, chName := range sortedChannelNames(channels) {
		for _, nodeName := range graph.triggerIndex[chName] {
			node := graph.Nodes[nodeName]
			if alreadyPlanned(tasks, nodeName) {
				continue
			}
			if !channelAdvancedForNode(node, channels, channelVersions, versionsSeen[nodeName]) {
				continue
			}
			input := bindInput(node, channels)
			tasks = append(tasks, plannedTask{node: node, path: Path{Kind: PathPull, Channel: chName}, input: input})
		}
	}

	for i, send := range pendingSends {
		node, ok := graph.Nodes[send.Node]
		if !ok {
			continue
		}
		tasks = append(tasks, plannedTask{node: node, path: Path{Kind: PathPush, Index: i}, input: send.Arg})
	}

	return tasks
}

func alreadyPlanned(tasks []plannedTask, nodeName string) bool {
	for _, t := range tasks {
		if t.node.Name == nodeName {
			return true
		}
	}
	return false
}

// channelAdvancedForNode reports whether any channel in node.Triggers has a
// version strictly newer than what this node last saw on that channel (spec
// §3 "versions_seen", §8 trigger-soundness property). A channel with no
// recorded version, or one the node has never seen, counts as advanced once
// it holds a value.
func channelAdvancedForNode(node *NodeSpec, channels map[string]Channel, channelVersions map[string]string, seen map[string]string) bool {
	for _, ch := range node.Triggers {
		c, ok := channels[ch]
		if !ok {
			continue
		}
		if _, err := c.Get(); err != nil {
			continue // channel has no value yet; cannot trigger
		}
		current := channelVersions[ch]
		last, sawIt := seen[ch]
		if !sawIt || last != current {
			return true
		}
	}
	return false
}

// bindInput produces the value passed to a node body: the single channel's
// value when Reads has one entry, or a map keyed by channel name otherwise.
// A channel with no value contributes nil rather than aborting the bind,
// since a node may legitimately read an optional channel.
func bindInput(node *NodeSpec, channels map[string]Channel) any {
	if len(node.Reads) == 1 {
		v, _ := channels[node.Reads[0]].Get()
		return v
	}
	bound := make(map[string]any, len(node.Reads))
	for _, ch := range node.Reads {
		v, _ := channels[ch].Get()
		bound[ch] = v
	}
	return bound
}

// dispatchResult is one task's outcome after execution (possibly after
// internal retries), ready for the loop to fold into the superstep commit.
type dispatchResult struct {
	task *Task
}

// dispatchTasks runs tasks with bounded concurrency: at most maxConcurrent
// goroutines execute node bodies at once, matching the within-superstep
// parallelism the scheduler provides while the checkpoint/trigger machinery
// recomputes the frontier fresh each superstep (no cross-superstep queue is
// needed, unlike a streaming scheduler).
func dispatchTasks(ctx context.Context, tasks []*Task, maxConcurrent int, run func(ctx context.Context, t *Task)) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, t := range tasks {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			run(ctx, t)
		}()
	}
	wg.Wait()
}
