package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/darasahq/darasa-sync/internal/tenant"
)

var deleteForce bool

var schoolDeleteCmd = &cobra.Command{
	Use:   "delete <school-id>",
	Short: "Delete a school and all its sync data",
	Long:  "Permanently delete a school sync store and all its data. Requires --force or interactive confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchoolDelete,
}

func init() {
	schoolDeleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Skip confirmation prompt")
}

func runSchoolDelete(cmd *cobra.Command, args []string) error {
	schoolID := args[0]
	ctx := context.Background()

	mgr, err := resolveManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := tenant.ValidateSchoolID(schoolID); err != nil {
		return err
	}

	// Interactive confirmation unless --force
	if !deleteForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will permanently delete school %q and all its sync data.\n", schoolID)
		fmt.Fprint(errOut, "Type the school ID to confirm: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		if strings.TrimSpace(input) != schoolID {
			fmt.Fprintln(errOut, "Aborted. School ID did not match.")
			return nil
		}
	}

	if err := mgr.DeleteSchool(ctx, schoolID); err != nil {
		return err
	}

	if schoolJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":      schoolID,
			"deleted": true,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted school %q\n", schoolID)
	return nil
}
