// Command gateway is the conversational message gateway's entrypoint. It
// loads config.json/system.json, builds the LLM client and every pkg/core
// component, and runs the HTTP ingress plus its background loops until
// interrupted or config.json/system.json change on disk — mirroring the
// teacher's reload-on-change main loop, now driving pkg/core instead of
// pkg/gateway's channel/handler/agent trio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/config"
	"github.com/genesis-labs/convo-gateway/pkg/core"
	"github.com/genesis-labs/convo-gateway/pkg/llm"
	_ "github.com/genesis-labs/convo-gateway/pkg/llm/autoload" // Auto-register LLM Providers
	"github.com/genesis-labs/convo-gateway/pkg/monitor"
	"github.com/genesis-labs/convo-gateway/pkg/obslog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, sysCfg, err := config.Load(); err == nil {
		monitor.SetupEnvironment(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")

	for {
		err := runGateway(ctx, reloadCh)
		if err != nil {
			slog.Error("gateway crashed or failed to load config", "error", err)
			slog.Info("waiting 5 seconds before retrying...")
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("configuration change detected while waiting, retrying immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
			slog.Info("==== configuration reloaded ====")
		}
	}
}

// runGateway runs one lifecycle of the gateway: load config, build a Core,
// run it until ctx or reloadCh fires, then shut it down. A nil return means
// a clean stop (signal or reload); the outer loop decides what happens next.
func runGateway(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		obslog.Setup("info")
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	monitor.SetupEnvironment(sysCfg.LogLevel)
	slog.Info("==========================================")

	llmClient, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return fmt.Errorf("failed to init LLM client: %w", err)
	}

	co, err := core.New(coreConfig(cfg, sysCfg), llmClient, nil)
	if err != nil {
		return fmt.Errorf("failed to build core: %w", err)
	}

	if err := co.Run(ctx); err != nil {
		return fmt.Errorf("failed to start core: %w", err)
	}

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, stopping gateway...")
		shutdownGateway(co)
		slog.Info("bye!")
		return nil
	case <-reloadCh:
		slog.Info("configuration changes detected, stopping gateway...")
		shutdownGateway(co)
		slog.Info("draining connections before restart...")
		time.Sleep(1 * time.Second)
		return nil
	}
}

func shutdownGateway(co *core.Core) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := co.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during gateway shutdown", "error", err)
	}
}

// coreConfig translates the flat SystemConfig/Config tuning fields into a
// core.Config, converting every *Ms/*Seconds field into a time.Duration.
func coreConfig(cfg *config.Config, sysCfg *config.SystemConfig) core.Config {
	return core.Config{
		WorkspaceDir: sysCfg.WorkspaceDir,

		DedupWindow:          time.Duration(sysCfg.DedupWindowSeconds) * time.Second,
		FloodGateWindow:      time.Duration(sysCfg.FloodGateWindowSeconds * float64(time.Second)),
		TaskQueueCapacity:    sysCfg.TaskQueueCapacity,
		TaskHistoryCapacity:  sysCfg.TaskHistoryCapacity,
		WorkerCount:          sysCfg.WorkerCount,
		TypingInterval:       time.Duration(sysCfg.TypingIntervalMs) * time.Millisecond,
		SenderTimeout:        time.Duration(sysCfg.SenderTimeoutMs) * time.Millisecond,
		SenderChunkSize:      sysCfg.SenderChunkSize,
		SenderChunkDelay:     time.Duration(sysCfg.SenderChunkDelayMs) * time.Millisecond,
		MaxConflicts:         sysCfg.MaxConflicts,
		MemoryWriteRetries:   sysCfg.MemoryWriteRetries,
		MemoryWriteBackoffMs: sysCfg.MemoryWriteBackoffMs,
		VectorDimension:      sysCfg.VectorDimension,
		GreetingSet:          sysCfg.GreetingSet,

		EmbedAPIKey:  sysCfg.EmbedAPIKey,
		EmbedBaseURL: sysCfg.EmbedBaseURL,
		EmbedModel:   sysCfg.EmbedModel,

		SenderCLIPath: sysCfg.SenderCLIPath,
		SenderChannel: sysCfg.SenderChannel,

		IngressHost:    sysCfg.ServerHost,
		IngressPort:    sysCfg.ServerPort,
		SharedSecret:   sysCfg.SharedSecret,
		CORSOrigins:    sysCfg.CORSOrigins,
		BridgeToken:    sysCfg.BridgeToken,
		DefaultPersona: sysCfg.DefaultPersona,
		Personas:       sysCfg.Personas,

		SystemPrompt: cfg.SystemPrompt,
	}
}
