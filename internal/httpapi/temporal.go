package httpapi

import (
	"context"
	"fmt"
	"sync"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/kediaman/orchestrator/internal/workflows"
)

// TemporalRunner executes turns as Temporal workflows. Workflow ids follow
// `turn-<thread>-<n>` with a per-thread counter so runs group naturally in
// the Temporal UI; the reuse policy tolerates counter resets across process
// restarts.
type TemporalRunner struct {
	client    client.Client
	taskQueue string

	mu   sync.Mutex
	seqs map[string]int64
}

func NewTemporalRunner(c client.Client, taskQueue string) *TemporalRunner {
	return &TemporalRunner{
		client:    c,
		taskQueue: taskQueue,
		seqs:      make(map[string]int64),
	}
}

func (r *TemporalRunner) RunTurn(ctx context.Context, input workflows.TurnInput) (workflows.TurnResult, error) {
	options := client.StartWorkflowOptions{
		ID:                    fmt.Sprintf("turn-%s-%d", input.ThreadID, r.nextSeq(input.ThreadID)),
		TaskQueue:             r.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	run, err := r.client.ExecuteWorkflow(ctx, options, workflows.TurnWorkflow, input)
	if err != nil {
		return workflows.TurnResult{}, fmt.Errorf("start turn workflow: %w", err)
	}

	var result workflows.TurnResult
	if err := run.Get(ctx, &result); err != nil {
		return workflows.TurnResult{}, fmt.Errorf("turn workflow: %w", err)
	}
	return result, nil
}

func (r *TemporalRunner) nextSeq(threadID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[threadID]++
	return r.seqs[threadID]
}
