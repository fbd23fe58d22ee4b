// Package oci generates the configuration artifacts that accompany a built
// image tree.
package oci

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/log"
	"github.com/containerd/platforms"
	"github.com/moby/sys/atomicwriter"
	"github.com/moby/treebuilder/internal/usergroup"
	imagespec "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

const (
	// RuntimeConfigFile is the runtime bundle configuration written by
	// the generator.
	RuntimeConfigFile = "config.json"
	// ImageConfigFile is the image configuration written by the generator.
	ImageConfigFile = "image.json"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// ImageConfig is the accumulated build configuration handed to a Generator.
type ImageConfig struct {
	Env          []string // KEY=VALUE in definition order
	Labels       map[string]string
	ExposedPorts []string
	User         string
	Maintainer   string
	Entrypoint   []string
	Cmd          []string
	// Rootfs is the image filesystem the user is resolved against.
	Rootfs string
}

// Generator writes configuration artifacts into an exports directory.
type Generator interface {
	Generate(ctx context.Context, exportsDir string, cfg ImageConfig) error
	// Signature identifies the output format. It takes part in the cache
	// key of the configuration step, so it must change whenever the
	// generated artifacts would.
	Signature() string
}

// ConfigGenerator writes an OCI runtime bundle config and an OCI image
// config.
type ConfigGenerator struct {
	// DefaultPath is used when the image environment does not set PATH.
	DefaultPath string
}

// NewGenerator returns a ConfigGenerator with default settings.
func NewGenerator() *ConfigGenerator {
	return &ConfigGenerator{DefaultPath: defaultPath}
}

// Signature implements Generator.
func (g *ConfigGenerator) Signature() string {
	return "CONFIG runtime-spec/" + specs.Version + " image-spec/" + imagespec.Version + " path=" + g.DefaultPath
}

// Generate implements Generator.
func (g *ConfigGenerator) Generate(ctx context.Context, exportsDir string, cfg ImageConfig) error {
	if err := os.MkdirAll(exportsDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create exports directory")
	}

	rt, err := g.runtimeConfig(cfg)
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(exportsDir, RuntimeConfigFile), rt); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(exportsDir, ImageConfigFile), imageConfig(cfg)); err != nil {
		return err
	}

	log.G(ctx).WithFields(log.Fields{
		"exports": exportsDir,
		"args":    len(rt.Process.Args),
		"env":     len(rt.Process.Env),
	}).Debug("generated image configuration")
	return nil
}

func (g *ConfigGenerator) runtimeConfig(cfg ImageConfig) (*specs.Spec, error) {
	s := DefaultSpec()

	var args []string
	args = append(args, cfg.Entrypoint...)
	args = append(args, cfg.Cmd...)
	s.Process.Args = args
	s.Process.Env = withPath(cfg.Env, g.DefaultPath)

	id, err := usergroup.Resolve(cfg.Rootfs, cfg.User)
	if err != nil {
		return nil, err
	}
	s.Process.User = specs.User{
		UID: uint32(id.UID),
		GID: uint32(id.GID),
	}
	for _, gid := range id.Groups {
		s.Process.User.AdditionalGids = append(s.Process.User.AdditionalGids, uint32(gid))
	}
	if cfg.User != "" && !isNumeric(cfg.User) {
		s.Process.User.Username = strings.SplitN(cfg.User, ":", 2)[0]
	}

	if len(cfg.Labels) > 0 {
		s.Annotations = make(map[string]string, len(cfg.Labels))
		for k, v := range cfg.Labels {
			s.Annotations[k] = v
		}
	}
	return &s, nil
}

func imageConfig(cfg ImageConfig) ocispec.Image {
	img := ocispec.Image{
		Platform: platforms.DefaultSpec(),
		Author:   cfg.Maintainer,
		Config: ocispec.ImageConfig{
			User:       cfg.User,
			Env:        cfg.Env,
			Entrypoint: cfg.Entrypoint,
			Cmd:        cfg.Cmd,
			Labels:     cfg.Labels,
		},
		RootFS: ocispec.RootFS{
			Type: "layers",
		},
	}
	if len(cfg.ExposedPorts) > 0 {
		img.Config.ExposedPorts = make(map[string]struct{}, len(cfg.ExposedPorts))
		for _, p := range cfg.ExposedPorts {
			img.Config.ExposedPorts[portWithProto(p)] = struct{}{}
		}
	}
	return img
}

// portWithProto adds the default protocol to a port without one.
func portWithProto(p string) string {
	if strings.Contains(p, "/") {
		return strings.ToLower(p)
	}
	return p + "/tcp"
}

func withPath(env []string, path string) []string {
	out := append([]string{}, env...)
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return out
		}
	}
	return append(out, "PATH="+path)
}

func isNumeric(userSpec string) bool {
	name := strings.SplitN(userSpec, ":", 2)[0]
	if name == "" {
		return false
	}
	for _, c := range name {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", filepath.Base(path))
	}
	return nil
}

