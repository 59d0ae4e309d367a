// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fs

import (
	"fmt"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tgcryptfs/tgcryptfs/metadatastore"
)

// MountOptions configures a kernel-level FUSE mount of a Filesystem.
type MountOptions struct {
	Mountpoint string
	Filesystem *Filesystem

	// AllowOther permits other users, including root, to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool
}

// Mount mounts fs at the configured mountpoint. The caller must call
// Unmount on the returned Server when done. The mountpoint directory
// is created if it does not exist.
func Mount(options MountOptions) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("fs: mountpoint is required")
	}
	if options.Filesystem == nil {
		return nil, fmt.Errorf("fs: filesystem is required")
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("fs: creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := newNode(options.Filesystem, metadatastore.RootIno)

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "tgcryptfs",
			Name:       options.Filesystem.Namespace,
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fs: mounting at %s: %w", options.Mountpoint, err)
	}

	options.Filesystem.Logger.Info("filesystem mounted", "mountpoint", options.Mountpoint, "namespace", options.Filesystem.Namespace)
	return server, nil
}
