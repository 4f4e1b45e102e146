package builder

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DedupFiles walks every container root directory under roots and
// hardlinks together regular files that are byte-identical, reclaiming
// the disk space near-identical container versions otherwise waste
// ("vagga _dedup", the supplemental index-and-hardlink surface the
// original exposes as `hardlink_cmd`). It returns how many files were
// linked and how many bytes were reclaimed.
func DedupFiles(roots []string) (linked int, reclaimed int64, err error) {
	type candidate struct {
		path string
		size int64
	}
	bySize := map[int64][]candidate{}

	for _, root := range roots {
		walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				bySize[info.Size()] = append(bySize[info.Size()], candidate{path, info.Size()})
			}
			return nil
		})
		if walkErr != nil {
			return 0, 0, fmt.Errorf("walking %s: %w", root, walkErr)
		}
	}

	for _, group := range bySize {
		if len(group) < 2 {
			continue
		}
		byHash := map[string][]string{}
		for _, c := range group {
			h, err := fileHash(c.path)
			if err != nil {
				return linked, reclaimed, err
			}
			byHash[h] = append(byHash[h], c.path)
		}
		for _, paths := range byHash {
			if len(paths) < 2 {
				continue
			}
			first := paths[0]
			info, err := os.Stat(first)
			if err != nil {
				return linked, reclaimed, err
			}
			for _, dup := range paths[1:] {
				changed, err := relinkIdentical(first, dup)
				if err != nil {
					return linked, reclaimed, err
				}
				if changed {
					linked++
					reclaimed += info.Size()
				}
			}
		}
	}
	return linked, reclaimed, nil
}

// relinkIdentical replaces dup with a hard link to canonical, via a
// temp-name-then-rename so a reader never observes a missing file. It
// reports whether a link was actually made (false if the two paths
// were already the same inode, e.g. a repeated dedup pass).
func relinkIdentical(canonical, dup string) (bool, error) {
	canonInfo, err := os.Stat(canonical)
	if err != nil {
		return false, fmt.Errorf("statting %s: %w", canonical, err)
	}
	dupInfo, err := os.Stat(dup)
	if err != nil {
		return false, fmt.Errorf("statting %s: %w", dup, err)
	}
	if os.SameFile(canonInfo, dupInfo) {
		return false, nil
	}
	tmp := dup + ".vagga-link-tmp"
	if err := os.Link(canonical, tmp); err != nil {
		return false, fmt.Errorf("linking %s: %w", dup, err)
	}
	if err := os.Rename(tmp, dup); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("activating link over %s: %w", dup, err)
	}
	return true, nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
