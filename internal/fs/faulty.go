package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault error")

// ErrCrashed is returned by every operation after a simulated crash.
var ErrCrashed = errors.New("simulated crash")

// Op names a file system operation a fault can target.
type Op string

const (
	OpRename Op = "rename"
	OpRemove Op = "remove"
	OpOpen   Op = "open"
)

// Fault defines write-side failure behavior for files whose name matches a rule.
type Fault struct {
	FailAfterBytes int64 // Fail writes after this many bytes written to this file. -1 to disable.
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

type opRule struct {
	op      Op
	pattern string
	err     error
	crash   bool
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS FileSystem

	mu      sync.Mutex
	rules   map[string]Fault // Filename pattern -> Fault
	ops     []opRule
	crashed bool
	calls   map[Op][]string
}

// NewFaultyFS creates a new FaultyFS wrapping fs (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:    fs,
		rules: make(map[string]Fault),
		calls: make(map[Op][]string),
	}
}

// AddRule adds a write fault for files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// FailOp makes op fail with err for paths ending in pattern.
func (f *FaultyFS) FailOp(op Op, pattern string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, opRule{op: op, pattern: pattern, err: err})
}

// CrashOn simulates a process crash when op is first invoked on a path
// ending in pattern: that call and every later call fail with ErrCrashed
// without touching the disk.
func (f *FaultyFS) CrashOn(op Op, pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, opRule{op: op, pattern: pattern, crash: true})
}

// Crashed reports whether a simulated crash has happened.
func (f *FaultyFS) Crashed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crashed
}

// Calls returns the paths passed to op so far, in call order.
func (f *FaultyFS) Calls(op Op) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[op]...)
}

func (f *FaultyFS) check(op Op, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crashed {
		return ErrCrashed
	}
	f.calls[op] = append(f.calls[op], name)
	for _, rule := range f.ops {
		if rule.op != op || !strings.HasSuffix(name, rule.pattern) {
			continue
		}
		if rule.crash {
			f.crashed = true
			return ErrCrashed
		}
		return rule.err
	}
	return nil
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpen, name); err != nil {
		return nil, err
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	fault := Fault{FailAfterBytes: -1}
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.mu.Unlock()

	return &faultyFile{File: file, fs: f, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error {
	if err := f.check(OpRemove, name); err != nil {
		return err
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, oldpath); err != nil {
		return err
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	if f.Crashed() {
		return ErrCrashed
	}
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) {
	return f.FS.ReadDir(name)
}

func (f *FaultyFS) SyncDir(name string) error {
	if f.Crashed() {
		return ErrCrashed
	}
	return f.FS.SyncDir(name)
}

type faultyFile struct {
	File
	fs      *FaultyFS
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (n int, err error) {
	if ff.fs.Crashed() {
		return 0, ErrCrashed
	}
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, ff.fault.Err
	}
	n, err = ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fs.Crashed() {
		return ErrCrashed
	}
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.File.Close()
	if ff.fault.FailOnClose {
		return ff.fault.Err
	}
	return err
}
