package pipeline

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// correlationNode mints a process-wide unique, sortable ID per inbound
// message so a single triage's log lines (across dedup, matching, analysis,
// and reply) can be grepped together without threading the chat platform's
// own message ID through every log call.
var (
	correlationNode     *snowflake.Node
	correlationNodeOnce sync.Once
)

func nextCorrelationID() string {
	correlationNodeOnce.Do(func() {
		// Node 1: a single agent process owns the whole worker pool, so
		// collisions across nodes are not a concern here.
		node, err := snowflake.NewNode(1)
		if err != nil {
			// snowflake.NewNode only fails for an out-of-range node number;
			// 1 is always in range, so this path is unreachable in practice.
			panic("pipeline: failed to initialize correlation ID node: " + err.Error())
		}
		correlationNode = node
	})
	return correlationNode.Generate().String()
}
