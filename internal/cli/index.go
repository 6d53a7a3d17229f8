package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devrev/pairdb/indexcore/internal/model"
	"github.com/devrev/pairdb/indexcore/internal/service"
)

// NewIndexCommand creates the index command group, which operates on the
// filter directory named by the configuration.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the filters of a configured index",
	}
	cmd.AddCommand(newIndexStatCommand(rootOpts))
	return cmd
}

func newIndexStatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Open the configured index and print per-kind filter state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewIndexService(rootOpts.Config, nil, rootOpts.Logger, nil)
			if err != nil {
				return err
			}
			stats := svc.Stats()

			var text strings.Builder
			data := make(map[string]interface{}, len(model.Kinds))
			for _, kind := range model.Kinds {
				f := stats.Filters[kind]
				fmt.Fprintf(&text, "%s: path=%s count=%d estimated_fpr=%.4f\n",
					kind, f.Path, f.ApproximateCount, f.EstimatedFalsePositiveRate)
				data[kind.String()] = map[string]interface{}{
					"path":                          f.Path,
					"approximate_count":             f.ApproximateCount,
					"estimated_false_positive_rate": f.EstimatedFalsePositiveRate,
				}
			}

			if err := svc.Close(); err != nil {
				return err
			}
			return writeResult(cmd, rootOpts, strings.TrimSuffix(text.String(), "\n"), data)
		},
	}
}
