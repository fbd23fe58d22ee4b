package command

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestLookup(t *testing.T) {
	kw, ok := Lookup("run")
	assert.Check(t, ok)
	assert.Check(t, is.Equal(Run, kw))
	assert.Check(t, kw.IsSupported())
	assert.Check(t, kw.ModifiesFilesystem())

	kw, ok = Lookup("Workdir")
	assert.Check(t, ok)
	assert.Check(t, is.Equal(Workdir, kw))
	assert.Check(t, !kw.IsSupported())

	kw, ok = Lookup("HEALTHCHECK")
	assert.Check(t, !ok)
	assert.Check(t, is.Equal(Keyword("HEALTHCHECK"), kw))

	kw, _ = Lookup("env")
	assert.Check(t, !kw.ModifiesFilesystem())
}
