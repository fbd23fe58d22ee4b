package reference

import (
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestParseNormalized(t *testing.T) {
	tests := []struct {
		input    string
		expected Named
		str      string
	}{
		{
			input:    "library/nginx",
			expected: Named{Image: "library/nginx", Tag: "latest"},
			str:      "library/nginx:latest",
		},
		{
			input:    "foo",
			expected: Named{Image: "foo", Tag: "latest"},
			str:      "foo:latest",
		},
		{
			input:    "foo:1.0",
			expected: Named{Image: "foo", Tag: "1.0"},
			str:      "foo:1.0",
		},
		{
			input:    "myregistry.example.com/foo/bar:v1",
			expected: Named{Registry: "myregistry.example.com", Image: "foo/bar", Tag: "v1"},
			str:      "myregistry.example.com/foo/bar:v1",
		},
		{
			input:    "myregistry.example.com/bar",
			expected: Named{Registry: "myregistry.example.com", Image: "bar", Tag: "latest"},
			str:      "myregistry.example.com/bar:latest",
		},
		{
			input:    "registry.local:5000/team/app:2024.1",
			expected: Named{Registry: "registry.local:5000", Image: "team/app", Tag: "2024.1"},
			str:      "registry.local:5000/team/app:2024.1",
		},
		{
			// no period in the first component, so it is not a registry
			input:    "localhost/app",
			expected: Named{Image: "localhost/app", Tag: "latest"},
			str:      "localhost/app:latest",
		},
		{
			input:    "  fedora:39  ",
			expected: Named{Image: "fedora", Tag: "39"},
			str:      "fedora:39",
		},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			n, err := ParseNormalized(tc.input)
			assert.NilError(t, err)
			assert.Check(t, is.DeepEqual(tc.expected, n))
			assert.Check(t, is.Equal(tc.str, n.String()))
		})
	}
}

func TestParseNormalizedIdempotent(t *testing.T) {
	for _, name := range []string{
		"foo",
		"library/nginx",
		"example.com/a/b/c:tag_1",
		"example.com/a",
		"a/b:c",
	} {
		first, err := ParseNormalized(name)
		assert.NilError(t, err)
		second, err := ParseNormalized(first.String())
		assert.NilError(t, err)
		assert.Check(t, is.DeepEqual(first, second), name)
		assert.Check(t, is.Equal(first.String(), second.String()), name)
	}
}

func TestParseNormalizedInvalid(t *testing.T) {
	for _, name := range []string{
		"",
		"   ",
		":tag",
		"foo:",
		"example.com/:v1",
		"foo//bar",
		"foo:bad tag",
		"foo:-leadingdash",
	} {
		_, err := ParseNormalized(name)
		assert.Check(t, is.ErrorContains(err, "invalid reference format"), "%q", name)
		assert.Check(t, errdefs.IsInvalidArgument(err), "%q", name)
	}
}

func TestName(t *testing.T) {
	assert.Check(t, is.Equal("example.com/foo", MustParse("example.com/foo:1").Name()))
	assert.Check(t, is.Equal("foo", MustParse("foo:1").Name()))
}

func TestIsScratch(t *testing.T) {
	assert.Check(t, IsScratch("scratch"))
	assert.Check(t, IsScratch(" scratch "))
	assert.Check(t, !IsScratch("scratch:latest"))
	assert.Check(t, !IsScratch("busybox"))
}
