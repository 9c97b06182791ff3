package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var schoolInfoCmd = &cobra.Command{
	Use:   "info <school-id>",
	Short: "Show detailed information about a school",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchoolInfo,
}

func runSchoolInfo(cmd *cobra.Command, args []string) error {
	schoolID := args[0]
	ctx := context.Background()

	mgr, err := resolveManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	// GetSchool opens the store, giving access to the schema version.
	managed, err := mgr.GetSchool(ctx, schoolID)
	if err != nil {
		return err
	}

	info, err := mgr.SchoolInfo(ctx, schoolID)
	if err != nil {
		return err
	}

	schemaVersion := managed.SchemaVersion(ctx)

	out := cmd.OutOrStdout()

	if schoolJSONOutput {
		return printJSON(out, map[string]any{
			"id":             info.ID,
			"name":           info.Name,
			"description":    info.Description,
			"created":        info.Created,
			"last_accessed":  info.LastAccessed,
			"size_bytes":     info.SizeBytes,
			"schema_version": schemaVersion,
			"path":           managed.BasePath,
		})
	}

	fmt.Fprintf(out, "School:        %s\n", info.ID)
	fmt.Fprintf(out, "Name:          %s\n", info.Name)
	if info.Description != "" {
		fmt.Fprintf(out, "Description:   %s\n", info.Description)
	}
	fmt.Fprintf(out, "Created:       %s\n", info.Created.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Last Accessed: %s\n", info.LastAccessed.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Size:          %s\n", formatSize(info.SizeBytes))
	fmt.Fprintf(out, "Schema:        v%d\n", schemaVersion)
	fmt.Fprintf(out, "Path:          %s\n", managed.BasePath)

	return nil
}
