package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
	"github.com/nerrad567/gray-logic-camera/internal/camera/gocvdevice"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/logging"
)

const defaultSnapshotTimeout = 10 * time.Second

func newSnapshotCmd(configPath *string) *cobra.Command {
	var (
		out     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture one frame and print its VL envelope",
		Long: "Opens the camera, waits for it to become active and captures one frame.\n" +
			"With --out ending in .jpg or .jpeg the raw JPEG is written; any other\n" +
			"--out receives the envelope JSON. Without --out the envelope goes to stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)

			session, err := newSession(cfg, log, gocvdevice.Opener{}, gocvdevice.Encoder{})
			if err != nil {
				return fmt.Errorf("creating camera session: %w", err)
			}

			snap, err := captureOnce(cmd.Context(), session, timeout)
			if err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), out, snap)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSnapshotTimeout, "how long to wait for the camera to open")

	return cmd
}

// captureOnce starts the session, takes one snapshot and stops it again.
func captureOnce(ctx context.Context, session *camera.Session, timeout time.Duration) (snap *camera.Snapshot, err error) {
	if startErr := session.Start(ctx); startErr != nil {
		return nil, fmt.Errorf("starting camera: %w", startErr)
	}
	defer func() {
		if stopErr := session.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("stopping camera: %w", stopErr)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if waitErr := session.WaitActive(waitCtx); waitErr != nil {
		return nil, fmt.Errorf("waiting for camera: %w", waitErr)
	}

	snap, err = session.Capture()
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	return snap, nil
}

// writeSnapshot writes the JPEG or the envelope JSON depending on out.
func writeSnapshot(stdout io.Writer, out string, snap *camera.Snapshot) error {
	ext := strings.ToLower(filepath.Ext(out))
	if out != "" && (ext == ".jpg" || ext == ".jpeg") {
		if err := os.WriteFile(out, snap.JPEG, 0o600); err != nil {
			return fmt.Errorf("writing JPEG: %w", err)
		}
		return nil
	}

	raw, err := snap.JSON()
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	raw = append(raw, '\n')

	if out == "" {
		_, err = stdout.Write(raw)
		return err
	}
	if err := os.WriteFile(out, raw, 0o600); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}
