/*
 * scoville.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

package main

import (
	"github.com/winfsp/cgofuse/fuse"
)

// Mount runs the FUSE event loop for fs over mntpnt. Each element of mntopt
// becomes an -o option; rawopt elements pass through to the host untouched.
// It returns false if mounting or the event loop failed.
func Mount(fs fuse.FileSystemInterface, mntpnt string, mntopt []string, rawopt []string) bool {
	args := make([]string, 0, 2*len(mntopt)+len(rawopt))
	for _, m := range mntopt {
		args = append(args, "-o", m)
	}
	args = append(args, rawopt...)

	host := fuse.NewFileSystemHost(fs)
	return host.Mount(mntpnt, args)
}
