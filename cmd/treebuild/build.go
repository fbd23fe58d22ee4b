package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"
	"github.com/moby/treebuilder/builder/dockerfile"
	"github.com/moby/treebuilder/config"
	"github.com/moby/treebuilder/execdriver"
	"github.com/moby/treebuilder/imgstore"
	"github.com/moby/treebuilder/oci"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type buildOptions struct {
	tag     string
	file    string
	noCache bool
	dryRun  bool
	timeout time.Duration
}

func newBuildCommand(root *rootOptions) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build [OPTIONS] SOURCE",
		Short: "Build an image from a build script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			return runBuild(cmd, opts, conf, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.tag, "tag", "t", "", "Name of the resulting image in the 'name:tag' format")
	flags.StringVarP(&opts.file, "file", "f", "", "Name of the build script (default is 'SOURCE/Dockerfile')")
	flags.BoolVar(&opts.noCache, "no-cache", false, "Do not use the build cache")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print the build plan without changing the store or running commands")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Abort the build after this duration (0 means no limit)")
	flags.BoolVar(&root.config.KeepTemp, "keep-temp", root.config.KeepTemp, "Keep the working tree after the build")
	flags.BoolVar(&root.config.GenerateConfig, "generate-config", root.config.GenerateConfig, "Generate OCI configuration artifacts as a final step")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func runBuild(cmd *cobra.Command, opts buildOptions, conf *config.Config, source string) error {
	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	scriptPath := opts.file
	if scriptPath == "" {
		scriptPath = filepath.Join(source, "Dockerfile")
	}
	script, err := os.Open(scriptPath)
	if err != nil {
		return errors.Wrap(err, "failed to read build script")
	}
	defer script.Close()

	var storeOpts []imgstore.StoreOpt
	if opts.dryRun {
		storeOpts = append(storeOpts, imgstore.WithReadOnly())
	}
	store, err := imgstore.NewLocalStore(conf.Root, storeOpts...)
	if err != nil {
		return err
	}

	var gen oci.Generator
	if conf.GenerateConfig {
		g := oci.NewGenerator()
		g.DefaultPath = conf.DefaultPath
		gen = g
	}
	driver := execdriver.NewChrootDriver(conf.Shell, execdriver.WithDefaultPath(conf.DefaultPath))

	b := dockerfile.NewBuilder(store, driver, dockerfile.Options{
		Source:    source,
		Tag:       opts.tag,
		NoCache:   opts.noCache,
		DryRun:    opts.dryRun,
		KeepTemp:  conf.KeepTemp,
		TmpDir:    conf.TmpDir,
		Generator: gen,
	})
	b.Stdout = cmd.OutOrStdout()
	b.Stderr = cmd.ErrOrStderr()

	res, err := b.Build(ctx, script)
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"image":  res.ImageID,
		"tag":    res.Tag,
		"cached": res.CachedSteps,
		"built":  res.BuiltSteps,
	}).Debug("build finished")
	if res.WorkDir != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Working tree kept at %s\n", res.WorkDir)
	}
	return nil
}
