// Package languages encodes the closed set of supported language tags as
// a tagged variant, replacing the dynamic per-language string-switch
// branches the source exhibited with per-tag configuration loaded once
// at startup.
package languages

import "fmt"

// Tag is one of the closed set of supported language identifiers.
type Tag string

const (
	Python     Tag = "python"
	JavaScript Tag = "javascript"
	Java       Tag = "java"
	Cpp        Tag = "cpp"
)

// Spec is the per-language configuration: the sandbox image to spawn,
// the command used to run (and, where applicable, compile) the
// entrypoint, and the file-extension whitelist accepted for that
// language's sources.
type Spec struct {
	Tag            Tag
	Image          string
	CompileCommand []string // empty when the language has no separate compile step
	RunCommand     []string // "{entry}" is substituted with the entrypoint's relative path
	Extensions     []string
}

// Registry is the closed, startup-loaded set of language specs.
type Registry struct {
	specs map[Tag]Spec
}

// DefaultImages maps each tag to a default sandbox image identifier, used
// when no --sandbox-image-<lang> flag / EXECD_SANDBOX_IMAGE_<LANG> override is set.
var DefaultImages = map[Tag]string{
	Python:     "coderunner/sandbox-python:latest",
	JavaScript: "coderunner/sandbox-node:latest",
	Java:       "coderunner/sandbox-java:latest",
	Cpp:        "coderunner/sandbox-cpp:latest",
}

// NewRegistry builds the closed language registry. imageOverrides maps a
// tag to an image identifier that replaces the built-in default.
func NewRegistry(imageOverrides map[Tag]string) *Registry {
	specs := map[Tag]Spec{
		Python: {
			Tag:        Python,
			RunCommand: []string{"python3", "{entry}"},
			Extensions: []string{".py"},
		},
		JavaScript: {
			Tag:        JavaScript,
			RunCommand: []string{"node", "{entry}"},
			Extensions: []string{".js", ".mjs"},
		},
		Java: {
			Tag:            Java,
			CompileCommand: []string{"javac", "{entry}"},
			RunCommand:     []string{"java", "-cp", ".", "{class}"},
			Extensions:     []string{".java"},
		},
		Cpp: {
			Tag:            Cpp,
			CompileCommand: []string{"g++", "-O2", "-o", "a.out", "{entry}"},
			RunCommand:     []string{"./a.out"},
			Extensions:     []string{".cpp", ".cc", ".h", ".hpp"},
		},
	}

	for tag, spec := range specs {
		image := DefaultImages[tag]
		if override, ok := imageOverrides[tag]; ok && override != "" {
			image = override
		}
		spec.Image = image
		specs[tag] = spec
	}

	return &Registry{specs: specs}
}

// Lookup returns the Spec for tag, or ok=false if tag is not in the
// closed set of supported languages.
func (r *Registry) Lookup(tag string) (Spec, bool) {
	spec, ok := r.specs[Tag(tag)]
	return spec, ok
}

// Tags returns the closed set of supported tags.
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.specs))
	for t := range r.specs {
		tags = append(tags, t)
	}
	return tags
}

// HasExtension reports whether ext (including the leading dot) is
// whitelisted for tag.
func (s Spec) HasExtension(ext string) bool {
	for _, e := range s.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(image=%s)", s.Tag, s.Image)
}
