// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract validates downloaded source bundles, unpacks them into a
// revision directory without letting any member escape it, and prunes
// everything that is not TeX source or bibliography.
package extract

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSuffixes are the file suffixes kept by Cleanup when none are given.
var DefaultSuffixes = []string{".tex", ".bib"}

// disallowed matches every rune outside the member-name allow list.
var disallowed = regexp.MustCompile(`[^A-Za-z0-9\-_./]`)

// Stats counts what happened to each archive member.
type Stats struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Sanitize replaces every character outside [A-Za-z0-9-_./] with "_".
func Sanitize(name string) string {
	return disallowed.ReplaceAllString(name, "_")
}

// Unsafe reports whether a member must never be written, and why.
func Unsafe(hdr *tar.Header) (string, bool) {
	switch hdr.Typeflag {
	case tar.TypeSymlink, tar.TypeLink:
		return "link", true
	}
	name := filepath.ToSlash(hdr.Name)
	if strings.HasPrefix(name, "/") || filepath.IsAbs(hdr.Name) {
		return "absolute path", true
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "parent traversal", true
		}
	}
	return "", false
}

// openTar returns a tar reader over f, transparently gunzipping when the
// stream starts with the gzip magic bytes.
func openTar(f io.Reader) (*tar.Reader, io.Closer, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return tar.NewReader(gz), gz, nil
	}
	return tar.NewReader(br), io.NopCloser(nil), nil
}

// IsArchive reports whether path holds a tar archive, gzipped or plain,
// with at least one readable header.
func IsArchive(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	tr, closer, err := openTar(f)
	if err != nil {
		return false
	}
	defer closer.Close()

	_, err = tr.Next()
	return err == nil
}

// Archive extracts src into dest. Unsafe members are skipped without
// complaint; members that fail to write are skipped with a warning. A
// corrupt stream stops extraction and returns an error along with the
// counts so far.
func Archive(src, dest string, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var stats Stats

	f, err := os.Open(src)
	if err != nil {
		return stats, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	tr, closer, err := openTar(f)
	if err != nil {
		return stats, err
	}
	defer closer.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return stats, fmt.Errorf("resolving destination: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return stats, fmt.Errorf("creating destination: %w", err)
	}

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if errors.Is(err, tar.ErrInsecurePath) && hdr != nil {
			logger.Debug("skipping member", "member", hdr.Name, "reason", "insecure path")
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("reading archive: %w", err)
		}

		if reason, bad := Unsafe(hdr); bad {
			logger.Debug("skipping member", "member", hdr.Name, "reason", reason)
			stats.Skipped++
			continue
		}

		target, ok := within(root, Sanitize(hdr.Name))
		if !ok {
			logger.Debug("skipping member", "member", hdr.Name, "reason", "outside destination")
			stats.Skipped++
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				logger.Warn("creating directory", "member", hdr.Name, "error", err)
				stats.Failed++
			}
		case tar.TypeReg:
			if err := writeMember(target, tr); err != nil {
				logger.Warn("extracting member", "member", hdr.Name, "error", err)
				stats.Failed++
				continue
			}
			stats.Extracted++
		default:
			stats.Skipped++
		}
	}
}

// within joins name under root and reports whether the result stays
// strictly inside root.
func within(root, name string) (string, bool) {
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func writeMember(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Cleanup removes every file under dir whose name does not end in one of
// suffixes, then removes directories left empty. dir itself is kept.
// Running it again on the same tree removes nothing.
func Cleanup(dir string, suffixes []string) (int, error) {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	removed := 0
	var dirs []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if d.Type().IsRegular() && hasSuffix(d.Name(), suffixes) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	// WalkDir visits parents before children; walk backwards to prune leaves first.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dirs[i]); err != nil {
			return removed, fmt.Errorf("removing %s: %w", dirs[i], err)
		}
	}
	return removed, nil
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
