// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tgcryptfs/tgcryptfs/internal/coreerr"
)

// Disk is a Backend backed by the local filesystem, sharded by the
// first two hex characters of the object id to avoid enormous flat
// directories, following the content-addressed sharding convention
// artifact stores in this codebase's lineage use.
type Disk struct {
	root string

	mu      sync.Mutex
	cursors map[string][]string // prefix -> ordered locators, for enumerate
}

// NewDisk returns a Disk backend rooted at dir.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("backend: creating root %s: %w", dir, err)
	}
	return &Disk{root: dir, cursors: make(map[string][]string)}, nil
}

func (d *Disk) pathFor(prefix string, blobType BlobType, id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	dir := filepath.Join(d.root, sanitizeComponent(prefix), string(blobType), shard)
	return filepath.Join(dir, sanitizeComponent(id))
}

func sanitizeComponent(s string) string {
	return strings.ReplaceAll(s, string(filepath.Separator), "_")
}

func locatorFor(prefix string, blobType BlobType, id string) string {
	return prefix + ":" + string(blobType) + ":" + id
}

func parseLocator(locator string) (prefix string, blobType BlobType, id string, err error) {
	parts := strings.SplitN(locator, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("backend: malformed locator %q", locator)
	}
	return parts[0], BlobType(parts[1]), parts[2], nil
}

// Put writes data to disk under a path derived from prefix/type/id
// and returns the object's locator.
func (d *Disk) Put(ctx context.Context, prefix string, blobType BlobType, id string, data []byte) (string, error) {
	path := d.pathFor(prefix, blobType, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("backend: creating shard directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("backend: writing object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("backend: renaming object into place: %w", err)
	}

	locator := locatorFor(prefix, blobType, id)
	d.mu.Lock()
	d.cursors[prefix] = append(d.cursors[prefix], locator)
	d.mu.Unlock()

	return locator, nil
}

// Get reads the object identified by locator.
func (d *Disk) Get(ctx context.Context, locator string) ([]byte, error) {
	prefix, blobType, id, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.pathFor(prefix, blobType, id))
	if os.IsNotExist(err) {
		return nil, coreerr.New(coreerr.NotFound, "backend: object not found: "+locator)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: reading object: %w", err)
	}
	return data, nil
}

// Delete removes the object identified by locator.
func (d *Disk) Delete(ctx context.Context, locator string) error {
	prefix, blobType, id, err := parseLocator(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(d.pathFor(prefix, blobType, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backend: deleting object: %w", err)
	}
	return nil
}

// Enumerate lists every locator put under prefix through this Disk
// value, in lexicographic order, starting after sinceCursor. Each
// entry's cursor is its own locator, so callers can resume enumeration
// from any point.
func (d *Disk) Enumerate(ctx context.Context, prefix string, sinceCursor string) ([]Entry, error) {
	d.mu.Lock()
	locators := append([]string(nil), d.cursors[prefix]...)
	d.mu.Unlock()

	sort.Strings(locators)

	var out []Entry
	for _, locator := range locators {
		if sinceCursor != "" && locator <= sinceCursor {
			continue
		}
		_, blobType, id, err := parseLocator(locator)
		if err != nil {
			continue
		}
		out = append(out, Entry{Locator: locator, Type: blobType, ID: id, Cursor: locator})
	}
	return out, nil
}
