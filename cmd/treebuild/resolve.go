package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moby/treebuilder/builder/dockerfile"
	"github.com/moby/treebuilder/imgstore"
	"github.com/moby/treebuilder/reference"
	"github.com/spf13/cobra"
)

type resolveOptions struct {
	inspect bool
}

func newResolveCommand(root *rootOptions) *cobra.Command {
	var opts resolveOptions

	cmd := &cobra.Command{
		Use:   "resolve [OPTIONS] NAME",
		Short: "Print the commit a reference points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			store, err := imgstore.NewLocalStore(conf.Root, imgstore.WithReadOnly())
			if err != nil {
				return err
			}
			return runResolve(cmd, store, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.inspect, "inspect", false, "Print the commit record as JSON")
	return cmd
}

func runResolve(cmd *cobra.Command, store *imgstore.LocalStore, name string, opts resolveOptions) error {
	ctx := cmd.Context()

	// cache entries are looked up verbatim, everything else is a tag
	if !strings.HasPrefix(name, dockerfile.CachePrefix) {
		n, err := reference.ParseNormalized(name)
		if err != nil {
			return err
		}
		name = n.String()
	}

	id, err := store.Resolve(ctx, name)
	if err != nil {
		return err
	}
	if !opts.inspect {
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	ci, err := store.Inspect(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "    ")
	return enc.Encode(struct {
		ID imgstore.CommitID `json:"id"`
		imgstore.CommitInfo
	}{ID: id, CommitInfo: ci})
}
