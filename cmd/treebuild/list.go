package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/moby/treebuilder/builder/dockerfile"
	"github.com/moby/treebuilder/imgstore"
	"github.com/spf13/cobra"
)

type listOptions struct {
	all bool
}

func newListCommand(root *rootOptions) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:     "list [OPTIONS]",
		Aliases: []string{"ls"},
		Short:   "List references in the image store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			store, err := imgstore.NewLocalStore(conf.Root, imgstore.WithReadOnly())
			if err != nil {
				return err
			}
			return runList(cmd, store, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.all, "all", "a", false, "Include build cache entries")
	return cmd
}

func runList(cmd *cobra.Command, store *imgstore.LocalStore, opts listOptions) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 20, 1, 3, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tCOMMIT")
	err := store.Walk(cmd.Context(), func(name string, id imgstore.CommitID) error {
		if !opts.all && strings.HasPrefix(name, dockerfile.CachePrefix) {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s\t%s\n", name, id)
		return err
	})
	if err != nil {
		return err
	}
	return w.Flush()
}
