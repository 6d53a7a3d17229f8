package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/devrev/pairdb/indexcore/internal/codec"
	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/model"
	"github.com/devrev/pairdb/indexcore/internal/storage/bloom"
)

// NewFilterCommand creates the filter command group.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Create, query and update existence filter files",
	}

	cmd.AddCommand(newFilterCreateCommand(rootOpts))
	cmd.AddCommand(newFilterPutCommand(rootOpts))
	cmd.AddCommand(newFilterCheckCommand(rootOpts))
	cmd.AddCommand(newFilterStatCommand(rootOpts))

	return cmd
}

func newFilterCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		expected int
		fpr      float64
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create an empty filter file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to replace it", path)
			}
			if expected <= 0 {
				expected = rootOpts.Config.Filter.ExpectedInsertions
			}
			if fpr <= 0 {
				fpr = rootOpts.Config.Filter.FalsePositiveRate
			}

			f := bloom.Create(path, expected,
				bloom.WithLogger(rootOpts.Logger),
				bloom.WithFalsePositiveRate(fpr))
			if err := f.Sync(); err != nil {
				return err
			}
			return writeResult(cmd, rootOpts,
				fmt.Sprintf("Created %s (%d bits, %d hashes)", path, f.NumBits(), f.NumHashes()),
				filterStat(f))
		},
	}

	cmd.Flags().IntVar(&expected, "expected", 0, "expected insertions (default from config)")
	cmd.Flags().Float64Var(&fpr, "fpr", 0, "target false positive rate (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing file")

	return cmd
}

func newFilterPutCommand(rootOpts *RootOptions) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "put <file> <record> <column>",
		Short: "Insert (record, column[, value]) and sync the file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := parseComponents(args[1], args[2], value, cmd.Flags().Changed("value"))
			if err != nil {
				return err
			}
			f, err := bloom.Open(args[0], bloom.WithLogger(rootOpts.Logger))
			if err != nil {
				return err
			}

			changed := f.Put(components...)
			if err := f.Sync(); err != nil {
				return err
			}

			text := "Inserted"
			if !changed {
				text = "Possibly present already"
			}
			return writeResult(cmd, rootOpts, text, map[string]interface{}{"changed": changed})
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "string value completing the key")
	return cmd
}

func newFilterCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "check <file> <record> <column>",
		Short: "Report whether (record, column[, value]) might be present",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := parseComponents(args[1], args[2], value, cmd.Flags().Changed("value"))
			if err != nil {
				return err
			}
			f, err := bloom.Open(args[0], bloom.WithLogger(rootOpts.Logger))
			if err != nil {
				return err
			}

			present := f.MightContain(components...)
			text := "Absent"
			if present {
				text = "Maybe present"
			}
			return writeResult(cmd, rootOpts, text, map[string]interface{}{"might_contain": present})
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "string value completing the key")
	return cmd
}

func newFilterStatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>",
		Short: "Print the dimensions and fill of a filter file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := bloom.Open(args[0], bloom.WithLogger(rootOpts.Logger))
			if err != nil {
				return err
			}
			stat := filterStat(f)
			text := fmt.Sprintf("path: %s\nexpected insertions: %d\nbits: %d\nhashes: %d\napproximate count: %d\nestimated fpr: %.4f",
				f.Path(), f.ExpectedInsertions(), f.NumBits(), f.NumHashes(), f.ApproximateCount(), f.EstimatedFalsePositiveRate())
			return writeResult(cmd, rootOpts, text, stat)
		},
	}
}

func filterStat(f *bloom.Filter) map[string]interface{} {
	return map[string]interface{}{
		"path":                          f.Path(),
		"expected_insertions":           f.ExpectedInsertions(),
		"false_positive_rate":           f.FalsePositiveRate(),
		"bits":                          f.NumBits(),
		"hashes":                        f.NumHashes(),
		"approximate_count":             f.ApproximateCount(),
		"estimated_false_positive_rate": f.EstimatedFalsePositiveRate(),
	}
}

// parseComponents builds the composite key components (record, column[, value]).
func parseComponents(record, column, value string, hasValue bool) ([]codec.Byteable, error) {
	id, err := strconv.ParseInt(record, 10, 64)
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid record %q", record), err).
			WithDetail("record", record)
	}
	components := []codec.Byteable{model.RecordID(id), model.Text(column)}
	if hasValue {
		components = append(components, model.String(value))
	}
	return components, nil
}
