package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/moby/treebuilder/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	configFile string
	config     *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{
		config: config.New(),
	}

	cmd := &cobra.Command{
		Use:           "treebuild [OPTIONS] COMMAND",
		Short:         "Build filesystem images from a build script, one cached step at a time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", config.DefaultConfigFile, "Configuration file")
	installConfigFlags(opts.config, flags)

	cmd.AddCommand(
		newBuildCommand(opts),
		newImportCommand(opts),
		newListCommand(opts),
		newResolveCommand(opts),
	)
	return cmd
}

// installConfigFlags adds the flags shared by all commands. Their names
// match the keys of the configuration file.
func installConfigFlags(conf *config.Config, flags *pflag.FlagSet) {
	flags.StringVar(&conf.Root, "root", conf.Root, "Root directory of the image store")
	flags.StringVar(&conf.TmpDir, "tmp-dir", conf.TmpDir, "Directory for working trees (default is the system temporary directory)")
	flags.StringVarP(&conf.LogLevel, "log-level", "l", conf.LogLevel, `Set the logging level ("trace"|"debug"|"info"|"warn"|"error"|"fatal"|"panic")`)
	flags.StringVar(&conf.LogFormat, "log-format", conf.LogFormat, `Set the logging format ("text"|"json")`)
	flags.StringVar(&conf.Shell, "shell", conf.Shell, "Shell used to run RUN instructions")
	flags.StringVar(&conf.DefaultPath, "default-path", conf.DefaultPath, "PATH for processes whose environment does not set one")
}

// loadConfig merges the configuration file with the flags of cmd and
// configures logging. A missing default configuration file is not an
// error.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	flags := cmd.Flags()
	configFile := opts.configFile
	if !flags.Changed("config") {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			configFile = ""
		}
	}
	conf, err := config.MergeConfigurations(opts.config, flags, configFile)
	if err != nil {
		return nil, err
	}
	if err := configureLogging(conf); err != nil {
		return nil, err
	}
	log.G(cmd.Context()).WithFields(log.Fields{
		"root":   conf.Root,
		"config": configFile,
	}).Debug("loaded configuration")
	return conf, nil
}

func configureLogging(conf *config.Config) error {
	if err := log.SetLevel(conf.LogLevel); err != nil {
		return err
	}
	return log.SetFormat(log.OutputFormat(conf.LogFormat))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.L.Logger.SetOutput(os.Stderr)

	cmd := newRootCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		cancel()
		os.Exit(1)
	}
}
