package usergroup

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

func TestResolve(t *testing.T) {
	root := fs.NewDir(t, "rootfs",
		fs.WithDir("etc",
			fs.WithFile("passwd", "root:x:0:0:root:/root:/bin/sh\nbuilder:x:1000:1000::/home/builder:/bin/sh\n"),
			fs.WithFile("group", "root:x:0:\nbuilder:x:1000:\nwheel:x:10:builder\n"),
		),
	)

	tests := []struct {
		spec     string
		expected Identity
	}{
		{spec: "", expected: Identity{UID: 0, GID: 0, Home: "/root"}},
		{spec: "0", expected: Identity{UID: 0, GID: 0, Home: "/root"}},
		{spec: "builder", expected: Identity{UID: 1000, GID: 1000, Groups: []int{10}, Home: "/home/builder"}},
		{spec: "1000:10", expected: Identity{UID: 1000, GID: 10, Groups: []int{10}, Home: "/home/builder"}},
	}
	for _, tc := range tests {
		id, err := Resolve(root.Path(), tc.spec)
		assert.NilError(t, err, tc.spec)
		assert.Check(t, is.Equal(tc.expected.UID, id.UID), tc.spec)
		assert.Check(t, is.Equal(tc.expected.GID, id.GID), tc.spec)
		assert.Check(t, is.Equal(tc.expected.Home, id.Home), tc.spec)
	}

	_, err := Resolve(root.Path(), "nobody")
	assert.Check(t, is.ErrorContains(err, "unable to find user nobody"))
}

func TestResolveUserWithoutPasswd(t *testing.T) {
	root := fs.NewDir(t, "rootfs")

	id, err := Resolve(root.Path(), "1234:5678")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(1234, id.UID))
	assert.Check(t, is.Equal(5678, id.GID))

	_, err = Resolve(root.Path(), "named")
	assert.Check(t, err != nil)
}
