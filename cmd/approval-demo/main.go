// Command approval-demo drives a small human-in-the-loop graph: a generate
// node produces output, an approval-gate node interrupts until a human
// decision is supplied via UpdateState, and a finalize node runs once
// approved. It demonstrates pregel's NodeInterrupt plus resume-from-
// checkpoint in place of the teacher's Stop()/RunWithCheckpoint pattern.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/flowforge/pregel/pregel"
	"github.com/flowforge/pregel/pregel/checkpoint"
	"github.com/flowforge/pregel/pregel/emit"
)

type approvalDecision struct {
	Approved bool
	Comment  string
}

func generateNode() pregel.NodeBody {
	return pregel.NodeBodyFunc(func(_ context.Context, input any, w *pregel.TaskWriter) error {
		request, _ := input.(string)
		output := fmt.Sprintf("Generated response for %q: this is an automated draft awaiting review.", request)
		fmt.Printf("\ngenerate: %s\n", output)
		return w.Write("draft", output)
	})
}

func approvalGateNode() pregel.NodeBody {
	return pregel.NodeBodyFunc(func(_ context.Context, input any, w *pregel.TaskWriter) error {
		decision, ok := input.(approvalDecision)
		if !ok {
			fmt.Println("\napproval-gate: paused, awaiting human decision")
			return pregel.Interrupt(w, "awaiting approval")
		}
		if decision.Approved {
			fmt.Printf("\napproval-gate: approved (%s)\n", decision.Comment)
			return w.Write("decision", decision)
		}
		fmt.Printf("\napproval-gate: rejected (%s)\n", decision.Comment)
		return w.Write("decision", decision)
	})
}

func finalizeNode() pregel.NodeBody {
	return pregel.NodeBodyFunc(func(_ context.Context, input any, w *pregel.TaskWriter) error {
		decision, _ := input.(approvalDecision)
		if !decision.Approved {
			fmt.Println("\nfinalize: output rejected, nothing published")
			return nil
		}
		fmt.Println("\nfinalize: output approved and published")
		return nil
	})
}

func buildGraph() (*pregel.CompiledGraph, error) {
	g := pregel.NewGraph()

	if err := g.AddChannel("draft", pregel.ChannelSpec{Kind: pregel.KindLastValue}); err != nil {
		return nil, err
	}
	if err := g.AddChannel("decision", pregel.ChannelSpec{Kind: pregel.KindLastValue}); err != nil {
		return nil, err
	}

	if err := g.AddNode(pregel.NodeSpec{
		Name:     "generate",
		Triggers: []string{pregel.StartChannel},
		Reads:    []string{pregel.StartChannel},
		Writes:   []string{"draft"},
		Body:     generateNode(),
	}); err != nil {
		return nil, err
	}
	if err := g.AddNode(pregel.NodeSpec{
		Name:     "approval-gate",
		Triggers: []string{"draft"},
		Reads:    []string{"draft"},
		Writes:   []string{"decision"},
		Body:     approvalGateNode(),
	}); err != nil {
		return nil, err
	}
	if err := g.AddNode(pregel.NodeSpec{
		Name:     "finalize",
		Triggers: []string{"decision"},
		Reads:    []string{"decision"},
		Body:     finalizeNode(),
	}); err != nil {
		return nil, err
	}

	return g.Compile()
}

func askApproval() approvalDecision {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nApprove this output? (y/n): ")
	response, _ := reader.ReadString('\n')
	approved := strings.TrimSpace(strings.ToLower(response)) == "y"

	fmt.Print("Comment (optional): ")
	comment, _ := reader.ReadString('\n')
	return approvalDecision{Approved: approved, Comment: strings.TrimSpace(comment)}
}

func main() {
	graph, err := buildGraph()
	if err != nil {
		log.Fatalf("compile graph: %v", err)
	}

	saver := checkpoint.NewMemorySaver()
	loop, err := pregel.New(graph, saver, pregel.WithEmitter(emit.NewLogEmitter(os.Stdout, false)))
	if err != nil {
		log.Fatalf("build loop: %v", err)
	}

	ctx := context.Background()
	cfg := checkpoint.Config{ThreadID: "approval-demo-001"}

	result, err := loop.Invoke(ctx, cfg, "Create a marketing email for new product launch")
	if err != nil {
		log.Fatalf("invoke: %v", err)
	}

	for result.Interrupted {
		fmt.Println("\nworkflow paused at approval-gate")
		decision := askApproval()

		// asNode is left blank (not a real node name) so approval-gate's own
		// versionsSeen record for "draft" is untouched and it gets replanned
		// on the next Invoke instead of being treated as already having
		// observed this version.
		if _, err := loop.UpdateState(ctx, cfg, map[string]any{"draft": decision}, ""); err != nil {
			log.Fatalf("update state: %v", err)
		}
		result, err = loop.Invoke(ctx, cfg, nil)
		if err != nil {
			log.Fatalf("resume: %v", err)
		}
	}

	fmt.Println("\nworkflow finished, final channel values:")
	for name, value := range result.Values {
		fmt.Printf("  %s: %v\n", name, value)
	}
}
