package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nfsdispatch/core/internal/codec"
	"github.com/nfsdispatch/core/internal/dispatch"
	"github.com/nfsdispatch/core/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the RPC dispatch core",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func runStart() error {
	cfg, err := dispatch.LoadConfig(configFile)
	if err != nil {
		return err
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}
	if err := logger.Init(loggerCfg); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics(reg)

	table := buildProcTable()
	c := codec.NewCodec(table)
	auth := codec.NewAuthenticator(nil)

	disp := dispatch.NewDispatcher(cfg, c, auth, nil, metrics)

	logger.Info("Starting dispatch core",
		"nfs_port", cfg.NFSPort, "mount_port", cfg.MountPort,
		"tcp_event_channels", cfg.NTCPEventChannels)

	if err := disp.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Dispatch core is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)

	logger.Info("Shutdown signal received, initiating graceful shutdown")
	disp.Stop()
	logger.Info("Dispatch core stopped")

	return nil
}

// buildProcTable registers the well-known NFS-family procedures this
// core classifies and routes. Handler bodies are protocol-specific
// behavior this core does not implement (§1 Non-goals); registering
// them here only exercises the lookahead/classification path a real
// deployment would fill in with its own NFS/MOUNT/NLM handlers.
func buildProcTable() *codec.Table {
	table := codec.NewTable()

	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoNFS, ProgramNum: 100003, Version: 3, Procedure: 0,
		Name: "NFSPROC3_NULL", Handle: noopHandler,
	})
	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoNFS, ProgramNum: 100003, Version: 3, Procedure: 6,
		Name: "NFSPROC3_READ", Handle: noopHandler,
	})
	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoNFS, ProgramNum: 100003, Version: 3, Procedure: 7,
		Name: "NFSPROC3_WRITE", HighLatency: true, Handle: noopHandler,
	})
	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoMount, ProgramNum: 100005, Version: 3, Procedure: 0,
		Name: "MOUNTPROC3_NULL", MountOp: true, Handle: noopHandler,
	})
	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoMount, ProgramNum: 100005, Version: 3, Procedure: 1,
		Name: "MOUNTPROC3_MNT", MountOp: true, Handle: noopHandler,
	})
	table.Register(codec.ProcEntry{
		Program: dispatch.ProtoMount, ProgramNum: 100005, Version: 3, Procedure: 3,
		Name: "MOUNTPROC3_UMNT", MountOp: true, Handle: noopHandler,
	})

	return table
}

func noopHandler(req *dispatch.Req) error {
	return nil
}
