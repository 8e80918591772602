package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aishah914/smolpc-gimp/internal/appdirs"
	"github.com/aishah914/smolpc-gimp/internal/engine"
	"github.com/aishah914/smolpc-gimp/internal/envfile"
	"github.com/aishah914/smolpc-gimp/internal/envutil"
	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/logging"
	"github.com/aishah914/smolpc-gimp/internal/rpc"
)

func main() {
	envResults := envfile.Load()
	debug := envutil.Bool("SMOLPC_DEBUG")
	dataDir, err := appdirs.DataDir()
	if err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	level := logging.ParseLevel(envutil.String("SMOLPC_LOG_LEVEL", "debug"))
	logSetup, logErr := logging.NewFileLogger(dataDir, debug, level)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logging.Component(logger, "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	for _, res := range envResults {
		if res.Loaded {
			logger.Debug("engine.env_loaded", "path", res.Path, "keys", res.Keys)
		}
		if res.Err != nil {
			logger.Warn("engine.env_load_failed", "path", res.Path, "error", res.Err.Error())
		}
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	eng, err := engine.New(engine.WithLogger(logger), engine.WithDataDir(dataDir))
	if err != nil {
		logger.Error("engine.init_failed", "error", err.Error())
		log.Fatalf("engine init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng.SetNotifier(server.Notify)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)

	register("McpListTools", eng.McpListTools)
	register("McpCallTool", eng.McpCallTool)
	register("McpGetStatus", eng.McpGetStatus)
	register("McpReset", eng.McpReset)
	register("McpToolsDiff", eng.McpToolsDiff)

	register("AssistantChat", eng.AssistantChat)
	register("AssistantRun", eng.AssistantRun)
	register("AssistantGetModel", eng.AssistantGetModel)
	register("AssistantSetModel", eng.AssistantSetModel)

	register("HistoryList", eng.HistoryList)

	go func() {
		if err := eng.WatchConfig(ctx); err != nil {
			logger.Warn("engine.config_watch_failed", "error", err.Error())
		}
	}()

	serveErr := server.Serve(ctx)
	// Serve has canceled and drained every handler; stop the worker before exiting.
	if err := eng.Close(); err != nil {
		logger.Warn("engine.close_failed", "error", err.Error())
	}
	if serveErr != nil {
		logger.Error("rpc.server_error", "error", serveErr.Error())
		log.Fatalf("rpc server error: %v", serveErr)
	}
	logger.Info("engine.shutdown")
}
