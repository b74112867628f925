package modelhandle

import (
	"strings"
	"sync"

	"github.com/covalt-run/flowruntime/errkind"
	"github.com/covalt-run/flowruntime/nodeexec"
)

// Client is what a provider adapter package exposes for one model: the
// plain streaming handle llm-completion calls and the Turner the agent
// Engine drives. modelhandle/anthropic.Client and modelhandle/openai.Client
// both satisfy it.
type Client interface {
	nodeexec.ModelHandle
	Turner
}

// ProviderFactory builds a Client bound to one concrete model id.
type ProviderFactory func(modelID string) (Client, error)

// Resolver maps "provider:model_id" strings onto registered provider
// factories, memoizing one Client per model string. Its Models/Agents
// views satisfy nodeexec.ModelResolver and
// nodeexec.AgentResolver respectively (two views because both interfaces
// name their method Resolve with different return types).
type Resolver struct {
	registry nodeexec.ToolRegistry
	caller   nodeexec.ToolCaller

	mu        sync.Mutex
	providers map[string]ProviderFactory
	clients   map[string]Client
}

// NewResolver constructs a Resolver; registry and caller are handed to
// every Engine built for an agent run so its tool-calling loop can expand
// and invoke tools.
func NewResolver(registry nodeexec.ToolRegistry, caller nodeexec.ToolCaller) *Resolver {
	return &Resolver{
		registry:  registry,
		caller:    caller,
		providers: make(map[string]ProviderFactory),
		clients:   make(map[string]Client),
	}
}

// RegisterProvider registers factory under a provider name (the prefix
// before ":" in a model string). Last registration wins.
func (r *Resolver) RegisterProvider(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = factory
}

func (r *Resolver) client(modelStr string) (Client, error) {
	provider, modelID, found := strings.Cut(modelStr, ":")
	if !found || provider == "" || modelID == "" {
		return nil, errkind.Newf(errkind.Resolution, "model string %q is not provider:model_id", modelStr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[modelStr]; ok {
		return c, nil
	}
	factory, ok := r.providers[provider]
	if !ok {
		return nil, errkind.Newf(errkind.Resolution, "unknown model provider: %s", provider)
	}
	c, err := factory(modelID)
	if err != nil {
		return nil, err
	}
	r.clients[modelStr] = c
	return c, nil
}

// Models returns the nodeexec.ModelResolver view.
func (r *Resolver) Models() nodeexec.ModelResolver { return modelView{r} }

// Agents returns the nodeexec.AgentResolver view; each resolved model is
// wrapped in a fresh Engine carrying the resolver's tool registry and
// caller.
func (r *Resolver) Agents() nodeexec.AgentResolver { return agentView{r} }

type modelView struct{ r *Resolver }

func (v modelView) Resolve(modelStr string) (nodeexec.ModelHandle, error) {
	return v.r.client(modelStr)
}

type agentView struct{ r *Resolver }

func (v agentView) Resolve(modelStr string) (nodeexec.AgentModel, error) {
	c, err := v.r.client(modelStr)
	if err != nil {
		return nil, err
	}
	return NewEngine(c, v.r.registry, v.r.caller), nil
}
