// Package fs provides the filesystem seam used by the pager.
//
//   - [File]: an open database file with positional read/write, sync and truncate
//   - [FileSystem]: open, remove, rename and stat
//
// # Implementations
//
//   - [LocalFS]: production implementation backed by the os package
//   - [FaultyFS]: test utility that injects I/O errors
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.SetLimit(8192) // fail after 8KiB written
//
// [Lock] takes an advisory exclusive lock on a file so that a second process
// opening the same database fails fast.
//
// Operations take no context.Context: local filesystem calls are not
// interruptible at the syscall level.
package fs
