package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tc3107/mediabus/internal/logging"
	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
	"github.com/tc3107/mediabus/internal/store"
	"github.com/tc3107/mediabus/internal/supervisor"
	"github.com/tc3107/mediabus/internal/tlsidentity"
	"github.com/tc3107/mediabus/internal/tui"
)

func newServeCmd() *cobra.Command {
	var dbPath, dataDir, logLevel, mdnsName string
	var jsonLog bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MediaBus daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, dbPath, dataDir, logLevel, mdnsName, jsonLog, watch)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./mediabus.db", "sqlite database path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory (TLS cert/key material)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	cmd.Flags().StringVar(&mdnsName, "mdns-name", "mediabus", "mDNS instance label, advertised as <name>.local")
	cmd.Flags().BoolVar(&jsonLog, "log-json", false, "emit JSON logs instead of text")
	cmd.Flags().BoolVar(&watch, "watch", true, "attach the interactive dashboard when stdout is a terminal")
	return cmd
}

func runServe(cmd *cobra.Command, dbPath, dataDir, logLevel, mdnsName string, jsonLog, watch bool) error {
	log, _, err := logging.New(logging.Options{Level: logLevel, Component: "mediabus", JSON: jsonLog, DefaultSlog: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	settings, err := st.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if settings.SharedFolderPath == "" {
		return errors.New("no shared folder configured; run `mediabus setup` first")
	}

	rt, err := runtime.New(ctx, log, st)
	if err != nil {
		return err
	}
	defer rt.Close()

	fs := sharedfs.New(settings.SharedFolderPath)

	ident, err := tlsidentity.New(dataDir)
	if err != nil {
		return err
	}

	sv := supervisor.New(log, rt, fs, ident, mdnsName)

	svErrCh := make(chan error, 1)
	go func() { svErrCh <- sv.Run(ctx) }()

	if watch && term.IsTerminal(int(os.Stdout.Fd())) {
		program := tea.NewProgram(tui.New(sv, rt))
		if _, err := program.Run(); err != nil {
			log.Error("watch dashboard exited", "error", err)
		}
		stop()
	}

	select {
	case err := <-svErrCh:
		return err
	case <-ctx.Done():
		<-svErrCh
		return nil
	}
}
