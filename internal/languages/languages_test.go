package languages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryAppliesImageOverrides(t *testing.T) {
	r := NewRegistry(map[Tag]string{Python: "custom/python:dev"})

	spec, ok := r.Lookup("python")
	require.True(t, ok)
	require.Equal(t, "custom/python:dev", spec.Image)

	spec, ok = r.Lookup("javascript")
	require.True(t, ok)
	require.Equal(t, DefaultImages[JavaScript], spec.Image)
}

func TestNewRegistryIgnoresEmptyOverride(t *testing.T) {
	r := NewRegistry(map[Tag]string{Python: ""})
	spec, ok := r.Lookup("python")
	require.True(t, ok)
	require.Equal(t, DefaultImages[Python], spec.Image)
}

func TestLookupUnknownTag(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Lookup("rust")
	require.False(t, ok)
}

func TestTagsCoversClosedSet(t *testing.T) {
	r := NewRegistry(nil)
	tags := r.Tags()
	require.Len(t, tags, 4)
	require.Contains(t, tags, Python)
	require.Contains(t, tags, JavaScript)
	require.Contains(t, tags, Java)
	require.Contains(t, tags, Cpp)
}

func TestHasExtension(t *testing.T) {
	r := NewRegistry(nil)
	spec, ok := r.Lookup("python")
	require.True(t, ok)
	require.True(t, spec.HasExtension(".py"))
	require.False(t, spec.HasExtension(".js"))
}

func TestJavaHasCompileCommand(t *testing.T) {
	r := NewRegistry(nil)
	spec, ok := r.Lookup("java")
	require.True(t, ok)
	require.NotEmpty(t, spec.CompileCommand)
}

func TestSpecStringIncludesImage(t *testing.T) {
	r := NewRegistry(map[Tag]string{Cpp: "custom/cpp:dev"})
	spec, ok := r.Lookup("cpp")
	require.True(t, ok)
	require.Contains(t, spec.String(), "custom/cpp:dev")
}
