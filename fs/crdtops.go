// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fs

import (
	"path"
	"time"

	"github.com/tgcryptfs/tgcryptfs/crypto"
	"github.com/tgcryptfs/tgcryptfs/distributed"
)

func createOperation(parentPath, name string, kind distributed.FileKind, mode, uid, gid uint32, symlinkTarget string) *distributed.Operation {
	return &distributed.Operation{
		Kind:          distributed.OpCreate,
		ParentPath:    parentPath,
		Name:          name,
		FileType:      kind,
		InitialAttrs:  distributed.InitialAttrs{Mode: mode, UID: uid, GID: gid},
		SymlinkTarget: symlinkTarget,
	}
}

func writeOperation(filePath string, offset uint64, data []byte) *distributed.Operation {
	hash := crypto.ContentHash(data)
	return &distributed.Operation{
		Kind:   distributed.OpWrite,
		Path:   filePath,
		Offset: offset,
		Length: uint64(len(data)),
		DataHash: hash.String(),
	}
}

func deleteOperation(filePath string) *distributed.Operation {
	return &distributed.Operation{
		Kind:          distributed.OpDelete,
		Path:          filePath,
		TombstoneTime: time.Now().UTC(),
	}
}

func moveOperation(oldPath, newPath string) *distributed.Operation {
	return &distributed.Operation{
		Kind:    distributed.OpMove,
		OldPath: oldPath,
		NewPath: newPath,
	}
}

func setAttrOperation(filePath string, mode, uid, gid uint32) *distributed.Operation {
	return &distributed.Operation{
		Kind:  distributed.OpSetAttr,
		Path:  filePath,
		Attrs: distributed.InitialAttrs{Mode: mode, UID: uid, GID: gid},
	}
}

func linkOperation(parentPath, name, targetPath string) *distributed.Operation {
	return &distributed.Operation{
		Kind:       distributed.OpLink,
		ParentPath: parentPath,
		Name:       name,
		TargetPath: targetPath,
	}
}

func splitPath(p string) (dir, name string) {
	dir = path.Dir(p)
	name = path.Base(p)
	return
}
