package oci

import (
	"github.com/opencontainers/runtime-spec/specs-go"
)

func iPtr(i int64) *int64 { return &i }

// defaultCapabilities is the capability set granted to the image process.
var defaultCapabilities = []string{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FSETID",
	"CAP_FOWNER",
	"CAP_MKNOD",
	"CAP_NET_RAW",
	"CAP_SETGID",
	"CAP_SETUID",
	"CAP_SETFCAP",
	"CAP_SETPCAP",
	"CAP_NET_BIND_SERVICE",
	"CAP_SYS_CHROOT",
	"CAP_KILL",
	"CAP_AUDIT_WRITE",
}

// DefaultSpec returns the runtime configuration that generated bundle
// configs start from. The root filesystem is expected next to the exports
// directory.
func DefaultSpec() specs.Spec {
	s := specs.Spec{
		Version: specs.Version,
		Root: &specs.Root{
			Path: "../rootfs",
		},
		Hostname: "treebuild",
		Process: &specs.Process{
			Cwd: "/",
			Capabilities: &specs.LinuxCapabilities{
				Bounding:  defaultCapabilities,
				Effective: defaultCapabilities,
				Permitted: defaultCapabilities,
			},
			NoNewPrivileges: true,
			Rlimits: []specs.POSIXRlimit{
				{Type: "RLIMIT_NOFILE", Hard: 1024, Soft: 1024},
			},
		},
	}
	s.Mounts = []specs.Mount{
		{
			Destination: "/proc",
			Type:        "proc",
			Source:      "proc",
			Options:     []string{"nosuid", "noexec", "nodev"},
		},
		{
			Destination: "/dev",
			Type:        "tmpfs",
			Source:      "tmpfs",
			Options:     []string{"nosuid", "strictatime", "mode=755"},
		},
		{
			Destination: "/dev/pts",
			Type:        "devpts",
			Source:      "devpts",
			Options:     []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620", "gid=5"},
		},
		{
			Destination: "/sys",
			Type:        "sysfs",
			Source:      "sysfs",
			Options:     []string{"nosuid", "noexec", "nodev", "ro"},
		},
		{
			Destination: "/dev/mqueue",
			Type:        "mqueue",
			Source:      "mqueue",
			Options:     []string{"nosuid", "noexec", "nodev"},
		},
	}

	s.Linux = &specs.Linux{
		MaskedPaths: []string{
			"/proc/kcore",
			"/proc/latency_stats",
			"/proc/timer_list",
			"/proc/timer_stats",
			"/proc/sched_debug",
			"/sys/firmware",
		},
		ReadonlyPaths: []string{
			"/proc/asound",
			"/proc/bus",
			"/proc/fs",
			"/proc/irq",
			"/proc/sys",
			"/proc/sysrq-trigger",
		},
		Namespaces: []specs.LinuxNamespace{
			{Type: specs.MountNamespace},
			{Type: specs.NetworkNamespace},
			{Type: specs.UTSNamespace},
			{Type: specs.PIDNamespace},
			{Type: specs.IPCNamespace},
		},
		Resources: &specs.LinuxResources{
			Devices: []specs.LinuxDeviceCgroup{
				{Allow: false, Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(1), Minor: iPtr(5), Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(1), Minor: iPtr(3), Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(1), Minor: iPtr(9), Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(1), Minor: iPtr(8), Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(5), Minor: iPtr(0), Access: "rwm"},
				{Allow: true, Type: "c", Major: iPtr(5), Minor: iPtr(1), Access: "rwm"},
				{Allow: false, Type: "c", Major: iPtr(10), Minor: iPtr(229), Access: "rwm"},
			},
		},
	}

	return s
}
