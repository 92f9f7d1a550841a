// Package fileops provides the local file safety checks and atomic writes used
// by sky when a tool caller hands it a filesystem path.
//
// # Path Resolution
//
// ResolveLocalPath is the single entry point for reading caller-supplied files.
// It applies the checks in this order and stops at the first failure:
//
//  1. Non-empty input (KindInvalidInput)
//  2. Containment in one of the allowed roots after "~" expansion and
//     cleaning (KindPermissionDenied)
//  3. Existence (KindNotFound)
//  4. Regular file (KindInvalidInput)
//  5. Size limit (KindTooLarge)
//
// Failures are returned as *PathError so callers can map the Kind onto their
// own error vocabulary:
//
//	path, err := fileops.ResolveLocalPath(input, roots, cfg.MCP.MaxFileBytes)
//	var perr *fileops.PathError
//	if errors.As(err, &perr) {
//	    return fail(perr.Kind, perr.Message, perr.Details)
//	}
//
// # Atomic Writes
//
// AtomicWriteText writes into a temporary file in the destination directory and
// renames it over the target, so readers see either the old file or the
// complete new one:
//
//	err := fileops.AtomicWriteText("/reports/Fe2O3_1234.html", html)
//
// # Directory Operations
//
// EnsureDirectoryExists creates directories with 0755 permissions and
// ValidateDirectoryWritable checks write access with a throwaway file.
package fileops
