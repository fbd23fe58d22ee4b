package main

import (
	"fmt"
	"os"

	"github.com/moby/treebuilder/imgstore"
	"github.com/moby/treebuilder/reference"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type importOptions struct {
	message string
}

func newImportCommand(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import [OPTIONS] SRC TAG",
		Short: "Import a directory or a tarball as an image",
		Long: "Import a directory or a tarball as an image.\n\n" +
			"SRC is a directory, a (possibly compressed) tar archive, or \"-\" to read an archive from stdin.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			tag, err := reference.ParseNormalized(args[1])
			if err != nil {
				return err
			}
			store, err := imgstore.NewLocalStore(conf.Root)
			if err != nil {
				return err
			}

			id, err := runImport(cmd, store, args[0], tag, imgstore.ImportOptions{
				TmpDir:  conf.TmpDir,
				Message: opts.message,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.message, "message", "m", "", "Set commit message for imported image")
	return cmd
}

func runImport(cmd *cobra.Command, store imgstore.Store, src string, tag reference.Named, opts imgstore.ImportOptions) (imgstore.CommitID, error) {
	ctx := cmd.Context()
	if src == "-" {
		return imgstore.ImportArchive(ctx, store, cmd.InOrStdin(), tag, opts)
	}

	fi, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrap(err, "failed to import")
	}
	if fi.IsDir() {
		return imgstore.Import(ctx, store, src, tag, opts)
	}

	f, err := os.Open(src)
	if err != nil {
		return "", errors.Wrap(err, "failed to import")
	}
	defer f.Close()
	return imgstore.ImportArchive(ctx, store, f, tag, opts)
}
