package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/tenant"
)

var (
	createName        string
	createDescription string
	createIfNotExists bool
)

var schoolCreateCmd = &cobra.Command{
	Use:   "create <school-id>",
	Short: "Provision a new school",
	Long:  "Provision a new school sync store with the given ID. School IDs are lowercase alphanumeric with hyphens (e.g., greenwood-high).",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchoolCreate,
}

func init() {
	schoolCreateCmd.Flags().StringVar(&createName, "name", "",
		"Human-readable school name (default: the school ID)")
	schoolCreateCmd.Flags().StringVar(&createDescription, "description", "",
		"Human-readable description")
	schoolCreateCmd.Flags().BoolVar(&createIfNotExists, "if-not-exists", false,
		"Exit 0 if school already exists")
}

func runSchoolCreate(cmd *cobra.Command, args []string) error {
	schoolID := args[0]
	ctx := context.Background()

	mgr, err := resolveManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	name := createName
	if name == "" {
		name = schoolID
	}

	managed, err := mgr.CreateSchool(ctx, schoolID, name, createDescription)
	if err != nil {
		if errors.Is(err, tenant.ErrSchoolExists) && createIfNotExists {
			// Idempotent mode: load existing school and report it
			existing, loadErr := mgr.GetSchool(ctx, schoolID)
			if loadErr != nil {
				return fmt.Errorf("school exists but could not be loaded: %w", loadErr)
			}
			if schoolJSONOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"id":              existing.ID,
					"name":            existing.Meta.Name,
					"created":         existing.Meta.Created,
					"description":     existing.Meta.Description,
					"already_existed": true,
				})
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "School %q already exists\n", schoolID)
			return nil
		}
		return err
	}

	if schoolJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":          managed.ID,
			"name":        managed.Meta.Name,
			"created":     managed.Meta.Created,
			"description": managed.Meta.Description,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created school %q (name: %s)\n", managed.ID, managed.Meta.Name)
	return nil
}
