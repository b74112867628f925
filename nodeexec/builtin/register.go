package builtin

import (
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/runctl"
)

// Deps carries the external collaborators the built-in executors need:
// model resolvers for the agent and llm-completion nodes, the tool
// registry for toolset/mcp-server resolution, the sandbox backing the
// code node, and the run-control registry the agent node's approval
// flow suspends on. Any field may be nil without failing registration:
// llm-completion then fails its node with a Resolution error and code
// with an Executor error at execute time, while toolset and mcp-server
// skip the registry lookup and return their tool id unchecked.
type Deps struct {
	Agents     nodeexec.AgentResolver
	Models     nodeexec.ModelResolver
	Tools      nodeexec.ToolRegistry
	Sandbox    nodeexec.CodeSandbox
	RunControl *runctl.Registry
}

// RegisterAll registers every built-in node executor into reg.
func RegisterAll(reg *nodeexec.Registry, deps Deps) {
	for _, executor := range []interface{ NodeType() string }{
		ChatStart{},
		Agent{Models: deps.Agents, RunControl: deps.RunControl},
		PromptTemplate{},
		LlmCompletion{Models: deps.Models},
		Conditional{},
		Merge{},
		Reroute{},
		Filter{},
		WebhookTrigger{},
		WebhookEnd{},
		ModelSelector{},
		MCPServer{Tools: deps.Tools},
		Toolset{Tools: deps.Tools},
		Code{Sandbox: deps.Sandbox},
	} {
		reg.Register(executor.NodeType(), executor)
	}
}
