package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tc3107/mediabus/internal/store"
	"github.com/tc3107/mediabus/internal/tlsidentity"
)

func newSetupCmd() *cobra.Command {
	var dbPath, dataDir, sharedFolder, mdnsName string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Initialize the MediaBus database, TLS identity, and shared folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, dbPath, dataDir, sharedFolder, mdnsName)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./mediabus.db", "sqlite database path")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "data directory (TLS cert/key material)")
	cmd.Flags().StringVar(&sharedFolder, "shared-folder", "", "absolute path to the folder MediaBus will serve (prompted if omitted)")
	cmd.Flags().StringVar(&mdnsName, "mdns-name", "mediabus", "mDNS instance label, advertised as <name>.local")
	return cmd
}

func runSetup(cmd *cobra.Command, dbPath, dataDir, sharedFolder, mdnsName string) error {
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sharedFolder = strings.TrimSpace(sharedFolder)
	if sharedFolder == "" {
		sharedFolder, err = promptSharedFolder(cmd)
		if err != nil {
			return err
		}
	}
	if !filepath.IsAbs(sharedFolder) {
		return fmt.Errorf("shared folder path must be absolute: %s", sharedFolder)
	}
	if err := os.MkdirAll(sharedFolder, 0o700); err != nil {
		return err
	}

	settings := store.DefaultHostSettings()
	settings.SharedFolderPath = sharedFolder
	if err := st.SaveSettings(ctx, settings); err != nil {
		return err
	}

	ident, err := tlsidentity.New(dataDir)
	if err != nil {
		return err
	}
	if _, err := ident.Acquire(mdnsName + ".local"); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "mediabus initialized: db=%s data-dir=%s shared-folder=%s\n", dbPath, dataDir, sharedFolder)
	return nil
}

func promptSharedFolder(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Shared folder (absolute path): ")
	r := bufio.NewReader(cmd.InOrStdin())
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("shared folder path is required")
	}
	return line, nil
}
