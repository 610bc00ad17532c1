// Package fs abstracts the file system operations the store performs so that
// tests can inject failures.
//
//   - [LocalFS]: production implementation backed by the os package
//   - [FaultyFS]: wrapper that fails writes, syncs, renames or removes on
//     demand, or simulates a process crash at a chosen operation
//
// Production code uses [Default]:
//
//	f, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
//
// Operations take no context: local file system calls cannot be interrupted
// at the syscall level.
package fs
