package builtin

import (
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/graphruntime"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// flowFilter builds the incoming/outgoing edge filter for a single
// channel + target handle pair, the shape every link-materializing
// built-in (reroute, model-selector) needs when walking upstream edges.
func flowFilter(channel graph.Channel, targetHandle string) []nodeexec.EdgeFilterOption {
	return []nodeexec.EdgeFilterOption{
		graphruntime.WithChannel(channel),
		graphruntime.WithTargetHandle(targetHandle),
	}
}
