package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var schoolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schools",
	Args:  cobra.NoArgs,
	RunE:  runSchoolList,
}

func runSchoolList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := resolveManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	schools, err := mgr.ListSchools(ctx)
	if err != nil {
		return fmt.Errorf("list schools: %w", err)
	}

	// Sort by ID
	sort.Slice(schools, func(i, j int) bool {
		return schools[i].ID < schools[j].ID
	})

	if schoolJSONOutput {
		items := make([]map[string]any, len(schools))
		for i, s := range schools {
			items[i] = map[string]any{
				"id":            s.ID,
				"name":          s.Name,
				"size_bytes":    s.SizeBytes,
				"created":       s.Created,
				"last_accessed": s.LastAccessed,
				"description":   s.Description,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"schools": items,
			"total":   len(items),
		})
	}

	if len(schools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No schools found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tCREATED\tDESCRIPTION")
	for _, s := range schools {
		desc := s.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.Name,
			formatSize(s.SizeBytes),
			s.Created.Format("2006-01-02 15:04"),
			desc,
		)
	}
	w.Flush()

	return nil
}
