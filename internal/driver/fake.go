package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// FakeDriver is an in-memory Driver used by pool/pipeline/gateway tests.
// It never shells out to a real runtime; Exec runs a scripted Program
// supplied at construction or per-handle via SetProgram.
type FakeDriver struct {
	mu          sync.Mutex
	nextID      int64
	nextNetID   int64
	handles     map[Handle]*fakeSandbox
	SpawnErr    error // when set, Spawn always fails with this error
	SpawnDelay  func() // optional hook invoked synchronously inside Spawn
	DefaultProgram Program
}

// Program scripts a fake sandbox's behavior under Exec.
type Program struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Echo, when true, ignores Stdout/Stderr and instead copies anything
	// written to stdin back out to stdout, letting tests exercise the
	// interactive-input path (scenario 2 of the spec's literal scenarios).
	Echo bool
	Hang bool // never returns from Wait until ctx is cancelled
}

type fakeSandbox struct {
	files    map[string][]byte
	program  Program
	killed   bool
	destroyed bool
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{handles: make(map[Handle]*fakeSandbox)}
}

func (d *FakeDriver) SetProgram(h Handle, p Program) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sb, ok := d.handles[h]; ok {
		sb.program = p
	}
}

func (d *FakeDriver) Spawn(ctx context.Context, opts SpawnOpts) (Handle, error) {
	if d.SpawnDelay != nil {
		d.SpawnDelay()
	}
	if d.SpawnErr != nil {
		return "", d.SpawnErr
	}
	id := atomic.AddInt64(&d.nextID, 1)
	h := Handle(fmt.Sprintf("fake-%d", id))

	d.mu.Lock()
	d.handles[h] = &fakeSandbox{files: make(map[string][]byte), program: d.DefaultProgram}
	d.mu.Unlock()
	return h, nil
}

func (d *FakeDriver) Copy(ctx context.Context, h Handle, path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.handles[h]
	if !ok {
		return fmt.Errorf("unknown handle %s", h)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	sb.files[path] = buf
	return nil
}

func (d *FakeDriver) Exec(ctx context.Context, h Handle, command []string, env map[string]string, workdir string) (*ExecResult, error) {
	d.mu.Lock()
	sb, ok := d.handles[h]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", h)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	done := make(chan int, 1)

	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()

		if sb.program.Echo {
			buf := make([]byte, 4096)
			for {
				n, err := stdinR.Read(buf)
				if n > 0 {
					stdoutW.Write(buf[:n])
				}
				if err != nil {
					break
				}
			}
			done <- 0
			return
		}

		go io.Copy(io.Discard, stdinR)
		if sb.program.Stdout != "" {
			io.WriteString(stdoutW, sb.program.Stdout)
		}
		if sb.program.Stderr != "" {
			io.WriteString(stderrW, sb.program.Stderr)
		}
		if sb.program.Hang {
			<-ctx.Done()
			done <- -1
			return
		}
		done <- sb.program.ExitCode
	}()

	wait := func(waitCtx context.Context) (int, error) {
		select {
		case code := <-done:
			return code, nil
		case <-waitCtx.Done():
			return -1, waitCtx.Err()
		}
	}

	return &ExecResult{
		Stdin:  stdinW,
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait:   wait,
	}, nil
}

func (d *FakeDriver) Kill(ctx context.Context, h Handle, signal string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sb, ok := d.handles[h]; ok {
		sb.killed = true
	}
	return nil
}

func (d *FakeDriver) Destroy(ctx context.Context, h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sb, ok := d.handles[h]; ok {
		sb.destroyed = true
	}
	delete(d.handles, h)
	return nil
}

func (d *FakeDriver) ResetWorkdir(ctx context.Context, h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.handles[h]
	if !ok {
		return fmt.Errorf("unknown handle %s", h)
	}
	sb.files = make(map[string][]byte)
	return nil
}

func (d *FakeDriver) NetworkCreate(ctx context.Context) (string, error) {
	id := atomic.AddInt64(&d.nextNetID, 1)
	return fmt.Sprintf("fake-net-%d", id), nil
}

func (d *FakeDriver) NetworkDestroy(ctx context.Context, networkID string) error {
	return nil
}

func (d *FakeDriver) Ping(ctx context.Context) error { return nil }

func (d *FakeDriver) Close() error { return nil }

// IsDestroyed reports whether Destroy has been called for h, for test
// assertions about lease-release / cleanup behavior.
func (d *FakeDriver) IsDestroyed(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.handles[h]
	return !ok || sb.destroyed
}

// IsKilled reports whether Kill has been called for h.
func (d *FakeDriver) IsKilled(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.handles[h]
	return ok && sb.killed
}

// FileContents returns the bytes last Copy'd to path in h, for assertions
// on file-materialization tests.
func (d *FakeDriver) FileContents(h Handle, path string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.handles[h]
	if !ok {
		return nil, false
	}
	data, ok := sb.files[path]
	return data, ok
}
