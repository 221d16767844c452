package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the camera configuration file",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [path]",
			Short: "Print the value at a dot-separated path, or the whole document",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openCameraConfig(*configPath)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					return printJSON(cmd.OutOrStdout(), store.Document())
				}
				value, ok := store.Lookup(args[0])
				if !ok {
					return fmt.Errorf("config path not found: %s", args[0])
				}
				return printJSON(cmd.OutOrStdout(), value)
			},
		},
		&cobra.Command{
			Use:   "set <path> <value>",
			Short: "Store a value; JSON literals are decoded, anything else is a string",
			Example: "  graylogic-camera config set fps 15\n" +
				"  graylogic-camera config set stream.codec mjpeg",
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openCameraConfig(*configPath)
				if err != nil {
					return err
				}
				value := camera.ParseValue(args[1])
				if err := store.Set(args[0], value); err != nil {
					return fmt.Errorf("setting %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"path": args[0], "value": value})
			},
		},
	)

	return cmd
}

// openCameraConfig opens the JSON store named by the service config.
func openCameraConfig(configPath string) (*camera.ConfigStore, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return camera.OpenConfigStore(cfg.Camera.ConfigPath, nil), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
