// Package reference normalizes image names into the (registry, image, tag)
// triple used to name user-facing references in the image store.
//
// The same normalization is applied to FROM targets, build tags and import
// targets, so a name always maps to exactly one store reference.
package reference

import (
	"strings"

	"github.com/containerd/errdefs"
	distref "github.com/distribution/reference"
	"github.com/pkg/errors"
)

const (
	// DefaultTag is the tag used when a name carries none.
	DefaultTag = "latest"

	// Scratch names the empty image. It never resolves to a commit.
	Scratch = "scratch"
)

// Named is a normalized image name.
type Named struct {
	Registry string
	Image    string
	Tag      string
}

type invalidReferenceError struct {
	name string
	msg  string
}

func (e invalidReferenceError) Error() string {
	return "invalid reference format: " + e.msg + ": " + e.name
}

func (invalidReferenceError) InvalidParameter() {}

func (invalidReferenceError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}

// ParseNormalized splits name into registry, image and tag.
//
// The component before the first "/" is a registry only if it contains a
// period; otherwise the whole name is the image path. A ":" in the image
// path that is not followed by a "/" separates the tag, which defaults to
// "latest".
func ParseNormalized(name string) (Named, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Named{}, invalidReferenceError{name: name, msg: "empty name"}
	}

	var registry, path string
	if domain, remainder, ok := strings.Cut(name, "/"); ok && strings.Contains(domain, ".") {
		registry, path = domain, remainder
	} else {
		path = name
	}

	image, tag := path, DefaultTag
	if i := strings.LastIndex(path, ":"); i >= 0 && !strings.Contains(path[i+1:], "/") {
		image, tag = path[:i], path[i+1:]
	}

	switch {
	case image == "":
		return Named{}, invalidReferenceError{name: name, msg: "empty image name"}
	case strings.HasPrefix(image, "/") || strings.HasSuffix(image, "/") || strings.Contains(image, "//"):
		return Named{}, invalidReferenceError{name: name, msg: "empty path component"}
	case !validTag(tag):
		return Named{}, invalidReferenceError{name: name, msg: "invalid tag " + strings.TrimSpace(tag)}
	}
	return Named{Registry: registry, Image: image, Tag: tag}, nil
}

// MustParse is like ParseNormalized but panics on error. It is meant for
// tests and package-level defaults.
func MustParse(name string) Named {
	n, err := ParseNormalized(name)
	if err != nil {
		panic(errors.Wrap(err, "reference.MustParse"))
	}
	return n
}

func validTag(tag string) bool {
	return distref.TagRegexp.FindString(tag) == tag && tag != ""
}

// Name returns the repository part, without the tag.
func (n Named) Name() string {
	if n.Registry == "" {
		return n.Image
	}
	return n.Registry + "/" + n.Image
}

// String renders the reference as [registry/]image:tag. Parsing the result
// yields the same Named value.
func (n Named) String() string {
	return n.Name() + ":" + n.Tag
}

// IsScratch reports whether name refers to the empty image.
func IsScratch(name string) bool {
	return strings.TrimSpace(name) == Scratch
}
