package pregel

import "fmt"

// Graph is the mutable builder for a node/channel topology. Callers add
// channels and nodes, then Compile to obtain an immutable CompiledGraph a
// PregelLoop can execute (spec §4.5, "Node description validator").
type Graph struct {
	channels map[string]ChannelSpec
	nodes    map[string]*NodeSpec
}

// NewGraph returns an empty Graph builder.
func NewGraph() *Graph {
	return &Graph{
		channels: make(map[string]ChannelSpec),
		nodes:    make(map[string]*NodeSpec),
	}
}

// AddChannel declares a channel by name and spec. Declaring StartChannel
// explicitly is optional; Compile adds it automatically as a LastValue
// channel if absent.
func (g *Graph) AddChannel(name string, spec ChannelSpec) error {
	if name == "" {
		return &EngineError{Message: "channel name must not be empty", Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
	}
	if _, exists := g.channels[name]; exists {
		return &EngineError{Message: fmt.Sprintf("channel %q declared more than once", name), Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
	}
	g.channels[name] = spec
	return nil
}

// AddNode registers a node's description. Body may be nil at graph-building
// time but must be set before Compile.
func (g *Graph) AddNode(spec NodeSpec) error {
	if spec.Name == "" {
		return &EngineError{Message: "node name must not be empty", Code: "INVALID_GRAPH", Cause: ErrInvalidGraph}
	}
	if _, exists := g.nodes[spec.Name]; exists {
		return &EngineError{Message: fmt.Sprintf("node %q declared more than once", spec.Name), Code: "INVALID_GRAPH", NodeName: spec.Name, Cause: ErrInvalidGraph}
	}
	cp := spec
	g.nodes[spec.Name] = &cp
	return nil
}

// CompiledGraph is an immutable, validated Graph plus the derived indices
// the loop needs at runtime: which nodes each channel's advance triggers,
// and which channels the synthetic start node may write.
type CompiledGraph struct {
	Channels map[string]ChannelSpec
	Nodes    map[string]*NodeSpec

	// triggerIndex maps a channel name to the nodes it triggers, sorted by
	// name for deterministic planning order (spec §8 property: trigger
	// soundness).
	triggerIndex map[string][]string
}

// Compile validates the graph (spec §4.5) and derives the trigger index.
// Validation failures are always ErrInvalidGraph, distinguishing them from
// runtime errors that can only occur once a loop starts.
func (g *Graph) Compile() (*CompiledGraph, error) {
	channels := make(map[string]ChannelSpec, len(g.channels)+1)
	for name, spec := range g.channels {
		channels[name] = spec
	}
	if _, ok := channels[StartChannel]; !ok {
		channels[StartChannel] = ChannelSpec{Kind: KindLastValue}
	}

	for name, node := range g.nodes {
		if node.Body == nil {
			return nil, &EngineError{Message: "node has no body", Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
		}
		if name != StartNode && len(node.Triggers) == 0 {
			return nil, &EngineError{Message: "node has no triggers", Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
		}
		for _, ch := range node.Triggers {
			if _, ok := channels[ch]; !ok {
				return nil, &EngineError{Message: fmt.Sprintf("node triggers undeclared channel %q", ch), Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
			}
		}
		for _, ch := range node.Reads {
			if _, ok := channels[ch]; !ok {
				return nil, &EngineError{Message: fmt.Sprintf("node reads undeclared channel %q", ch), Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
			}
		}
		for _, ch := range node.Writes {
			if ch == ErrorWritesChannel {
				return nil, &EngineError{Message: "node may not declare a write to the reserved error channel", Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
			}
			if _, ok := channels[ch]; !ok {
				return nil, &EngineError{Message: fmt.Sprintf("node writes undeclared channel %q", ch), Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
			}
		}
		if node.Retry != nil {
			if err := node.Retry.Validate(); err != nil {
				return nil, err
			}
		}
	}

	triggerIndex := make(map[string][]string)
	for name, node := range g.nodes {
		for _, ch := range node.Triggers {
			triggerIndex[ch] = insertSorted(triggerIndex[ch], name)
		}
	}

	if err := checkReachability(g.nodes, triggerIndex); err != nil {
		return nil, err
	}

	nodes := make(map[string]*NodeSpec, len(g.nodes))
	for name, node := range g.nodes {
		cp := *node
		nodes[name] = &cp
	}

	return &CompiledGraph{Channels: channels, Nodes: nodes, triggerIndex: triggerIndex}, nil
}

func insertSorted(names []string, name string) []string {
	i := 0
	for i < len(names) && names[i] < name {
		i++
	}
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}

// checkReachability walks the node/channel bipartite graph outward from
// StartChannel (every node triggered, transitively, by what any reachable
// node's Writes can feed into) and flags any node Compile cannot prove is
// ever schedulable. Send-only nodes (nodes with no useful Triggers entry
// besides being a dynamic Send target) are exempt since they are reachable
// only at runtime via TaskWriter.Send, which Compile cannot observe.
func checkReachability(nodes map[string]*NodeSpec, triggerIndex map[string][]string) error {
	reachableChannels := map[string]bool{StartChannel: true}
	reachableNodes := map[string]bool{}

	changed := true
	for changed {
		changed = false
		for ch := range reachableChannels {
			for _, nodeName := range triggerIndex[ch] {
				if !reachableNodes[nodeName] {
					reachableNodes[nodeName] = true
					changed = true
				}
			}
		}
		for nodeName := range reachableNodes {
			node := nodes[nodeName]
			for _, ch := range node.Writes {
				if !reachableChannels[ch] {
					reachableChannels[ch] = true
					changed = true
				}
			}
		}
	}

	sendTargets := map[string]bool{}
	for _, node := range nodes {
		for key := range node.Metadata {
			if key == "send_target" {
				sendTargets[node.Name] = true
			}
		}
	}

	for name, node := range nodes {
		if name == StartNode {
			continue
		}
		if reachableNodes[name] || sendTargets[name] {
			continue
		}
		hasOnlyStartTrigger := len(node.Triggers) == 1 && node.Triggers[0] == StartChannel
		if hasOnlyStartTrigger {
			continue
		}
		return &EngineError{Message: "node is unreachable from " + StartChannel, Code: "INVALID_GRAPH", NodeName: name, Cause: ErrInvalidGraph}
	}
	return nil
}
