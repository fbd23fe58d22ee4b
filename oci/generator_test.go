package oci

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opencontainers/runtime-spec/specs-go"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.NilError(t, json.Unmarshal(data, v))
}

func TestGenerate(t *testing.T) {
	rootfs := fs.NewDir(t, "rootfs",
		fs.WithDir("etc",
			fs.WithFile("passwd", "root:x:0:0:root:/root:/bin/sh\napp:x:1000:1000:app:/home/app:/bin/sh\n"),
			fs.WithFile("group", "root:x:0:\napp:x:1000:\nwheel:x:10:app\n"),
		),
	)
	exports := filepath.Join(t.TempDir(), "exports")

	cfg := ImageConfig{
		Env:          []string{"A=1", "B=two words"},
		Labels:       map[string]string{"org.example.version": "1.0"},
		ExposedPorts: []string{"80", "53/UDP"},
		User:         "app",
		Maintainer:   "Jane Doe",
		Entrypoint:   []string{"/bin/server"},
		Cmd:          []string{"--port", "80"},
		Rootfs:       rootfs.Path(),
	}
	err := NewGenerator().Generate(context.Background(), exports, cfg)
	assert.NilError(t, err)

	var rt specs.Spec
	readJSON(t, filepath.Join(exports, RuntimeConfigFile), &rt)
	assert.Check(t, is.Equal(rt.Version, specs.Version))
	assert.Check(t, is.Equal(rt.Root.Path, "../rootfs"))
	assert.Check(t, is.DeepEqual(rt.Process.Args, []string{"/bin/server", "--port", "80"}))
	assert.Check(t, is.DeepEqual(rt.Process.Env, []string{"A=1", "B=two words", "PATH=" + defaultPath}))
	assert.Check(t, is.Equal(rt.Process.User.UID, uint32(1000)))
	assert.Check(t, is.Equal(rt.Process.User.GID, uint32(1000)))
	assert.Check(t, is.DeepEqual(rt.Process.User.AdditionalGids, []uint32{10}))
	assert.Check(t, is.Equal(rt.Process.User.Username, "app"))
	assert.Check(t, is.DeepEqual(rt.Annotations, map[string]string{"org.example.version": "1.0"}))

	var img ocispec.Image
	readJSON(t, filepath.Join(exports, ImageConfigFile), &img)
	assert.Check(t, is.Equal(img.Author, "Jane Doe"))
	assert.Check(t, is.Equal(img.OS, platforms.DefaultSpec().OS))
	assert.Check(t, is.Equal(img.Architecture, platforms.DefaultSpec().Architecture))
	assert.Check(t, is.Equal(img.Config.User, "app"))
	assert.Check(t, is.DeepEqual(img.Config.Env, []string{"A=1", "B=two words"}))
	assert.Check(t, is.DeepEqual(img.Config.ExposedPorts, map[string]struct{}{"80/tcp": {}, "53/udp": {}}))
	assert.Check(t, is.DeepEqual(img.Config.Labels, cfg.Labels))
	assert.Check(t, img.Created == nil)
}

func TestGenerateKeepsExplicitPath(t *testing.T) {
	exports := t.TempDir()
	err := NewGenerator().Generate(context.Background(), exports, ImageConfig{
		Env:    []string{"PATH=/opt/bin"},
		Rootfs: t.TempDir(),
	})
	assert.NilError(t, err)

	var rt specs.Spec
	readJSON(t, filepath.Join(exports, RuntimeConfigFile), &rt)
	assert.Check(t, is.DeepEqual(rt.Process.Env, []string{"PATH=/opt/bin"}))
	assert.Check(t, is.Len(rt.Process.Args, 0))
	assert.Check(t, is.Equal(rt.Process.User.UID, uint32(0)))
	assert.Check(t, is.Equal(rt.Process.User.Username, ""))
	assert.Check(t, rt.Annotations == nil)
}

func TestGenerateUnknownUser(t *testing.T) {
	err := NewGenerator().Generate(context.Background(), t.TempDir(), ImageConfig{
		User:   "nobody",
		Rootfs: t.TempDir(),
	})
	assert.Check(t, is.ErrorContains(err, "unable to find user nobody"))
}

func TestSignature(t *testing.T) {
	g := NewGenerator()
	assert.Check(t, is.Equal(g.Signature(), NewGenerator().Signature()))

	other := &ConfigGenerator{DefaultPath: "/bin"}
	assert.Check(t, g.Signature() != other.Signature())
}

func TestDefaultSpec(t *testing.T) {
	s := DefaultSpec()
	assert.Check(t, is.Equal(s.Root.Path, "../rootfs"))
	assert.Check(t, s.Process.NoNewPrivileges)
	assert.Check(t, is.Contains(s.Process.Capabilities.Bounding, "CAP_CHOWN"))
	assert.Check(t, is.Len(s.Linux.Namespaces, 5))
}
