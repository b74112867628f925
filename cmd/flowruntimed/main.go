// Command flowruntimed wires the agent-workflow runtime into a single
// process: sqlite persistence, the conversation tree and workspace, the
// stream broadcaster, run control, the node-executor registry with every
// built-in, provider model adapters, the MCP tool registry, the webhook
// and node-route HTTP surface, and the periodic reaper.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covalt-run/flowruntime/agentstore"
	"github.com/covalt-run/flowruntime/broadcaster"
	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/graph"
	"github.com/covalt-run/flowruntime/mcpadapter"
	"github.com/covalt-run/flowruntime/modelhandle"
	"github.com/covalt-run/flowruntime/modelhandle/anthropic"
	"github.com/covalt-run/flowruntime/modelhandle/openai"
	"github.com/covalt-run/flowruntime/nodeexec"
	"github.com/covalt-run/flowruntime/nodeexec/builtin"
	"github.com/covalt-run/flowruntime/orchestrator"
	"github.com/covalt-run/flowruntime/reaper"
	"github.com/covalt-run/flowruntime/routeindex"
	"github.com/covalt-run/flowruntime/runctl"
	"github.com/covalt-run/flowruntime/sandbox/docker"
	"github.com/covalt-run/flowruntime/store/sqlite"
	"github.com/covalt-run/flowruntime/workspace"
)

func main() {
	dataDir := envOr("FLOWRUNTIME_DATA_DIR", "./data")
	addr := envOr("FLOWRUNTIME_ADDR", ":8420")
	reapSchedule := os.Getenv("FLOWRUNTIME_REAP_SCHEDULE")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	store, err := sqlite.Open(filepath.Join(dataDir, "flowruntime.db"), sqlite.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tree := convtree.New(store)
	paths := workspace.Paths{DataDir: dataDir}
	bcast := broadcaster.New(store)
	runControl := runctl.NewRegistry()

	routes := routeindex.New(func(nodeType, routeID string, previous, next routeindex.Target) {
		logger.Warn("duplicate node route overwritten",
			"node_type", nodeType, "route_id", routeID,
			"previous_agent", previous.AgentID, "next_agent", next.AgentID)
	})
	nodeRoutes := routeindex.NewRegistry()

	chats := sqlite.Chats(store)
	agents := agentstore.New(store.DB(), graph.NewNormalizer(), routes, chats, store)
	if err := agents.Rebuild(); err != nil {
		log.Fatal(err)
	}

	tools := mcpadapter.New(logger)
	defer tools.Close()
	if err := tools.ConnectFrom(ctx, store); err != nil {
		logger.Warn("mcp server load failed", "error", err)
	}

	resolver := modelhandle.NewResolver(tools, tools)
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		resolver.RegisterProvider("anthropic", func(modelID string) (modelhandle.Client, error) {
			return anthropic.NewFromAPIKey(key, modelID)
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		resolver.RegisterProvider("openai", func(modelID string) (modelhandle.Client, error) {
			return openai.NewFromAPIKey(key, modelID)
		})
	}

	var codeSandbox nodeexec.CodeSandbox
	if sb, err := docker.NewFromEnv(docker.Options{}); err != nil {
		logger.Warn("docker sandbox unavailable, code nodes disabled", "error", err)
	} else {
		codeSandbox = sb
	}

	registry := nodeexec.NewRegistry()
	builtin.RegisterAll(registry, builtin.Deps{
		Agents:     resolver.Agents(),
		Models:     resolver.Models(),
		Tools:      tools,
		Sandbox:    codeSandbox,
		RunControl: runControl,
	})

	orch := &orchestrator.Orchestrator{
		Tree:        tree,
		Chats:       chats,
		Graphs:      agents,
		Models:      sqlite.NewModelValidator(store),
		Workspace:   orchestrator.NewWorkspaceService(tree, paths, store),
		Executors:   registry,
		Broadcaster: bcast,
		RunControl:  runControl,
		Tools:       tools,
	}

	agentGraphs := agentGraphLookup{agents: agents}
	dispatcher := routeindex.NewWebhookDispatcher(routes, agentGraphs, &orchestrator.WebhookRunner{Orch: orch})

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{hookID}", dispatcher)
	mux.Handle("/nodes/{nodeType}/{rest...}", routeindex.NewNodeRoutesHandler(nodeRoutes, routes, agentGraphs))
	mux.Handle("GET /metrics", promhttp.Handler())

	sweeper := reaper.New(bcast, agents)
	if err := sweeper.Start(ctx, reapSchedule); err != nil {
		log.Fatal(err)
	}
	defer sweeper.Stop()

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("flowruntimed listening", "addr", addr, "data_dir", dataDir)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// agentGraphLookup adapts agentstore.Store's error-returning graph lookup
// to the dispatcher's two-value form; a lookup error reads as not-found
// and is surfaced by the dispatcher as a 404.
type agentGraphLookup struct {
	agents *agentstore.Store
}

func (l agentGraphLookup) GetAgentGraph(agentID string) (graph.Graph, bool) {
	g, ok, err := l.agents.GraphForAgent(agentID)
	if err != nil || !ok {
		return graph.Graph{}, false
	}
	return g, true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
