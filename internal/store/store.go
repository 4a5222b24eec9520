// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store owns the on-disk layout: one directory per paper keyed
// YYYYMM-NNNNN holding metadata.json, references.json, and one extracted
// source directory per revision under tex/.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdiddy/arxiv-harvest/internal/arxivid"
	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

const (
	metadataFile   = "metadata.json"
	referencesFile = "references.json"
	sourceDir      = "tex"
)

// Layout resolves paths under the output root.
type Layout struct {
	Root string
}

// PaperDir returns <root>/<key>.
func (l Layout) PaperDir(id arxivid.Identifier) string {
	return filepath.Join(l.Root, id.Key())
}

// SourceDir returns <root>/<key>/tex/<id>v<n>.
func (l Layout) SourceDir(rev arxivid.Revision) string {
	return filepath.Join(l.PaperDir(rev.ID), sourceDir, rev.String())
}

// ArchivePath returns where the downloaded bundle for rev is staged.
func (l Layout) ArchivePath(rev arxivid.Revision) string {
	return filepath.Join(l.SourceDir(rev), rev.String()+".tar.gz")
}

// MetadataPath returns <root>/<key>/metadata.json.
func (l Layout) MetadataPath(id arxivid.Identifier) string {
	return filepath.Join(l.PaperDir(id), metadataFile)
}

// ReferencesPath returns <root>/<key>/references.json.
func (l Layout) ReferencesPath(id arxivid.Identifier) string {
	return filepath.Join(l.PaperDir(id), referencesFile)
}

// WriteMetadata writes m to the paper's metadata.json.
func (l Layout) WriteMetadata(id arxivid.Identifier, m types.PaperMetadata) error {
	return writeJSON(l.MetadataPath(id), m)
}

// ReadMetadata loads the paper's metadata.json.
func (l Layout) ReadMetadata(id arxivid.Identifier) (types.PaperMetadata, error) {
	var m types.PaperMetadata
	err := readJSON(l.MetadataPath(id), &m)
	return m, err
}

// WriteReferences writes refs to the paper's references.json, replacing
// any previous content. A nil map is written as {}.
func (l Layout) WriteReferences(id arxivid.Identifier, refs map[string]types.ReferenceEntry) error {
	if refs == nil {
		refs = map[string]types.ReferenceEntry{}
	}
	return writeJSON(l.ReferencesPath(id), refs)
}

// ReadReferences loads the paper's references.json.
func (l Layout) ReadReferences(id arxivid.Identifier) (map[string]types.ReferenceEntry, error) {
	refs := map[string]types.ReferenceEntry{}
	err := readJSON(l.ReferencesPath(id), &refs)
	return refs, err
}

// Scan lists the identifiers of every paper directory under root, in
// storage-key order. Entries whose names are not storage keys are ignored.
func Scan(root string) ([]arxivid.Identifier, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var ids []arxivid.Identifier
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := arxivid.ParseKey(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, nil
}

// writeJSON encodes v with two-space indentation and no HTML escaping,
// then renames a temp file into place so readers never see a partial file.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
