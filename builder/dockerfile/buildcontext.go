package dockerfile

import (
	"github.com/moby/treebuilder/oci"
)

// DefaultUser is the effective user until a USER instruction changes it.
const DefaultUser = "0"

// BuildContext is the metadata accumulated while walking the instructions
// of one build. Mappings keep the order in which keys were first defined.
type BuildContext struct {
	env        []kv
	labels     []kv
	ports      []string
	User       string
	Maintainer string
	Entrypoint []string
	Cmd        []string
}

type kv struct {
	key, value string
}

// NewBuildContext returns an empty BuildContext.
func NewBuildContext() *BuildContext {
	return &BuildContext{User: DefaultUser}
}

func setKV(list []kv, key, value string) []kv {
	for i := range list {
		if list[i].key == key {
			list[i].value = value
			return list
		}
	}
	return append(list, kv{key: key, value: value})
}

// SetEnv defines or replaces an environment variable.
func (bc *BuildContext) SetEnv(key, value string) {
	bc.env = setKV(bc.env, key, value)
}

// SetLabel defines or replaces a label.
func (bc *BuildContext) SetLabel(key, value string) {
	bc.labels = setKV(bc.labels, key, value)
}

// Expose records a port; repeated ports are kept once.
func (bc *BuildContext) Expose(port string) {
	for _, p := range bc.ports {
		if p == port {
			return
		}
	}
	bc.ports = append(bc.ports, port)
}

// Env returns the environment as KEY=VALUE pairs.
func (bc *BuildContext) Env() []string {
	out := make([]string, 0, len(bc.env))
	for _, e := range bc.env {
		out = append(out, e.key+"="+e.value)
	}
	return out
}

// Lookup returns the value of an environment variable.
func (bc *BuildContext) Lookup(key string) (string, bool) {
	for _, e := range bc.env {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

// Labels returns a copy of the labels.
func (bc *BuildContext) Labels() map[string]string {
	out := make(map[string]string, len(bc.labels))
	for _, l := range bc.labels {
		out[l.key] = l.value
	}
	return out
}

// ExposedPorts returns the exposed ports in the order they were declared.
func (bc *BuildContext) ExposedPorts() []string {
	return append([]string(nil), bc.ports...)
}

// ImageConfig converts the context into the input of a config generator.
func (bc *BuildContext) ImageConfig(rootfs string) oci.ImageConfig {
	cfg := oci.ImageConfig{
		Env:          bc.Env(),
		ExposedPorts: bc.ExposedPorts(),
		User:         bc.User,
		Maintainer:   bc.Maintainer,
		Entrypoint:   append([]string(nil), bc.Entrypoint...),
		Cmd:          append([]string(nil), bc.Cmd...),
		Rootfs:       rootfs,
	}
	if len(bc.labels) > 0 {
		cfg.Labels = bc.Labels()
	}
	return cfg
}
