package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/config"
	"github.com/darasahq/darasa-sync/internal/tenant"
)

var (
	schoolRootOverride string
	schoolJSONOutput   bool
)

var schoolCmd = &cobra.Command{
	Use:   "school",
	Short: "Manage school sync stores",
	Long:  "Create, list, inspect, and delete school sync stores without running the server.",
}

func init() {
	schoolCmd.PersistentFlags().StringVar(&schoolRootOverride, "root", "",
		"Schools root path (overrides config and DARASA_SYNC_SCHOOLS_ROOT)")
	schoolCmd.PersistentFlags().BoolVar(&schoolJSONOutput, "json", false,
		"Output in JSON format")

	schoolCmd.AddCommand(schoolCreateCmd)
	schoolCmd.AddCommand(schoolListCmd)
	schoolCmd.AddCommand(schoolInfoCmd)
	schoolCmd.AddCommand(schoolDeleteCmd)
}

// resolveManager creates a tenant.Manager from config with optional --root
// override. Auto-provisioning stays off; school commands provision explicitly.
func resolveManager() (*tenant.Manager, error) {
	rootPath := schoolRootOverride
	if rootPath == "" {
		schoolsCfg, err := config.LoadSchoolsConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		rootPath = schoolsCfg.RootPath
	}

	return tenant.NewManager(rootPath, false)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
