package pipeline

import (
	"context"
	"path"
	"strings"

	"github.com/coderunner/execd/internal/driver"
	"github.com/coderunner/execd/internal/errs"
	"github.com/coderunner/execd/internal/protocol"
)

const workRoot = "/workspace"

// materializedFile pairs a validated, root-relative path with its bytes.
type materializedFile struct {
	relPath string
	data    []byte
}

// validateFiles cleans and bounds-checks every submitted file, enforces
// the aggregate size cap, and identifies the single entrypoint. It
// performs no I/O; MaterializeFiles does the actual Copy calls.
func validateFiles(files []protocol.File, maxBytes int64) ([]materializedFile, string, error) {
	if len(files) == 0 {
		return nil, "", errs.New(errs.NoEntrypoint, "no files submitted")
	}

	var (
		out       []materializedFile
		entryPath string
		entries   int
		total     int64
	)

	for _, f := range files {
		cleaned := path.Clean(strings.TrimLeft(f.Path, "/"))
		if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return nil, "", errs.New(errs.PathEscape, "path escapes working root: "+f.Path)
		}

		data := []byte(f.Content)
		total += int64(len(data))
		if maxBytes > 0 && total > maxBytes {
			return nil, "", errs.New(errs.TooLarge, "aggregate source size exceeds limit")
		}

		out = append(out, materializedFile{relPath: cleaned, data: data})
		if f.Entry {
			entries++
			entryPath = cleaned
		}
	}

	if entries == 0 {
		return nil, "", errs.New(errs.NoEntrypoint, "no file marked as entrypoint")
	}
	if entries > 1 {
		return nil, "", errs.New(errs.MultipleEntrypoint, "more than one file marked as entrypoint")
	}

	return out, entryPath, nil
}

// materializeFiles copies every validated file into the sandbox under
// workRoot, stopping at the first copy failure.
func materializeFiles(ctx context.Context, drv driver.Driver, handle driver.Handle, files []materializedFile) error {
	for _, f := range files {
		if err := drv.Copy(ctx, handle, path.Join(workRoot, f.relPath), f.data); err != nil {
			return errs.Wrap(errs.FileTransferFailed, "failed to copy "+f.relPath, err)
		}
	}
	return nil
}
