// Command agentd wires the Permission Engine, Hook Chain, Tool Execution
// Pipeline, Run Loop, Event Bus, and Distributed Message Fabric into a
// single runnable process: a stdio-driven agent that can also serve and send
// fabric invocations over gRPC. The gRPC transport does no peer discovery.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/agentd/agentd/internal/eventbus"
	"github.com/agentd/agentd/internal/fabric"
	"github.com/agentd/agentd/internal/hookchain"
	"github.com/agentd/agentd/internal/permission"
	"github.com/agentd/agentd/internal/runloop"
	"github.com/agentd/agentd/internal/toolpipeline"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	listenAddr := flag.String("listen-grpc", "", "address for the fabric's gRPC transport to listen on (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*configPath, *listenAddr, logger); err != nil {
		logger.Error("agentd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string, logger *slog.Logger) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	engineOpts := []permission.Option{permission.WithMode(toolMode(cfg.Mode))}
	for tool, level := range cfg.ToolCeilings {
		engineOpts = append(engineOpts, permission.WithToolCeiling(tool, toolLevel(level)))
	}
	engine, err := permission.NewEngine(cfg.Permission, engineOpts...)
	if err != nil {
		return fmt.Errorf("compile permission configuration: %w", err)
	}

	chain := hookchain.New(logger)
	registerLoggingHooks(chain, logger)

	bus := eventbus.New()
	bus.On("tool_call_completed", func(e eventbus.Event) {
		if ev, ok := e.Value.(toolpipeline.ToolCallCompletedEvent); ok {
			logger.Info("tool call completed", "turn", e.Source, "tool", ev.Tool, "duration", ev.Duration)
		}
	})

	pipeline := toolpipeline.New(engine, chain, toolpipeline.WithBus(bus), toolpipeline.WithLogger(logger))

	tools := map[string]toolpipeline.Tool{"echo": echoTool{}}
	step := func(ctx context.Context, turnID, text string) (string, error) {
		argumentsJSON, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			return "", err
		}
		return pipeline.Execute(ctx, turnID, tools["echo"], argumentsJSON)
	}

	loop := runloop.New(step, runloop.WithBus(bus), runloop.WithLogger(logger), runloop.WithApprovals(pipeline.Approvals))

	registry := fabric.NewRegistry()
	community := fabric.NewCommunity(registry, bus, fabric.WithLogger(logger))

	localAddr := registry.AssignID()
	selfID := uuid.NewString()
	registry.ActorReady(selfID, localAddr, agentdHandle{pipeline: pipeline}, []string{"agent.perception.work"})

	fabricAddr := listenAddr
	if fabricAddr == "" {
		fabricAddr = cfg.FabricListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fabricAddr != "" {
		grpcTransport := fabric.NewGRPCTransport(selfID, fabricAddr)
		community.AddTransport(grpcTransport)
		go func() {
			if err := grpcTransport.Serve(ctx, fabricAddr); err != nil && ctx.Err() == nil {
				logger.Warn("fabric gRPC server stopped", "error", err)
			}
		}()
	}

	if err := community.Start(ctx); err != nil {
		return fmt.Errorf("start fabric community: %w", err)
	}
	defer func() { _ = community.Stop() }() //nolint:errcheck // best-effort cleanup

	logger.Info("agentd started", "self_id", selfID, "fabric_listen", fabricAddr)
	logger.Info("metrics available on internal/metrics.Registry; mount it on an HTTP server if desired")

	transport := runloop.NewStdioTransport(os.Stdin, os.Stdout)
	if err := loop.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run loop: %w", err)
	}
	return nil
}

// agentdHandle adapts the tool pipeline to the fabric's Handle interface so
// this process can receive invocations addressed to its own perceptions.
type agentdHandle struct {
	pipeline *toolpipeline.Pipeline
}

func (h agentdHandle) Receive(ctx context.Context, perception string, arguments []byte) ([]byte, error) {
	turnID := uuid.NewString()
	output, err := h.pipeline.Execute(ctx, turnID, echoTool{}, arguments)
	if err != nil {
		return nil, err
	}
	return []byte(output), nil
}

// registerLoggingHooks installs the one hook every embedder of this core
// is expected to want out of the box: structured logging of every
// pre/post-tool-use dispatch, at the lowest priority tier so it never
// delays a blocking decision from a higher-priority hook.
func registerLoggingHooks(chain *hookchain.Chain, logger *slog.Logger) {
	logHook := func(ctx context.Context, hctx hookchain.Context) (hookchain.Result, error) {
		logger.Debug("hook dispatch", "event", hctx.ToolName, "input", hctx.ToolInput)
		return hookchain.Continue(), nil
	}
	chain.Register(hookchain.EventPreToolUse, logHook, hookchain.WithPriority(hookchain.PriorityLowest), hookchain.WithName("logger"))
	chain.Register(hookchain.EventPostToolUse, logHook, hookchain.WithPriority(hookchain.PriorityLowest), hookchain.WithName("logger"))
}
