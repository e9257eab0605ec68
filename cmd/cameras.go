package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Inspect local capture devices and presets",
}

var camerasDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List local video devices the server can open",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices := camera.Discover(mustGetInt(cmd, "max"))
		if len(devices) == 0 {
			fmt.Println("No local cameras found")
			return nil
		}
		printDevices(os.Stdout, devices)
		return nil
	},
}

var camerasPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List capture presets and the configured startup cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		printPresets(os.Stdout, cfg.Cameras.Presets)

		entries, err := cfg.Cameras.LoadEntries()
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Println()
			t := newTable(os.Stdout, "Source", "Name", "Preset")
			for _, e := range entries {
				t.AppendRow([]any{e.Source, e.Name, e.Preset})
			}
			t.Render()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(camerasCmd)
	camerasCmd.AddCommand(camerasDevicesCmd)
	camerasCmd.AddCommand(camerasPresetsCmd)

	camerasDevicesCmd.Flags().Int("max", camera.DefaultDiscoverMax, "Number of device indices to probe")
}

func printDevices(w io.Writer, devices []camera.Device) {
	t := newTable(w, "Index", "Path", "Name")
	for _, d := range devices {
		t.AppendRow([]any{d.Index, d.Path, d.Name})
	}
	t.Render()
}

func printPresets(w io.Writer, presets map[string]config.CameraPreset) {
	t := newTable(w, "Preset", "Resolution", "FPS")
	for _, name := range slices.Sorted(maps.Keys(presets)) {
		p := presets[name]
		t.AppendRow([]any{name, fmt.Sprintf("%dx%d", p.Width, p.Height), p.FPS})
	}
	t.Render()
}
