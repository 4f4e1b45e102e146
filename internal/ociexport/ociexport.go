// Package ociexport packages a committed container root directory as
// a single-layer OCI image tarball (`vagga _build --export`), and
// merges runs of small layers in an already-exported image
// (`vagga _merge`) (spec.md's domain stack: go-containerregistry).
package ociexport

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

// ExportRoot packages rootDir (a committed container filesystem root)
// as a single-layer OCI image and writes it as a tarball to destPath,
// tagged with imageRef (e.g. "myapp:abc12345").
func ExportRoot(rootDir, destPath, imageRef string) error {
	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return tarFromDir(rootDir)
	})
	if err != nil {
		return fmt.Errorf("building layer from %s: %w", rootDir, err)
	}

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("appending layer: %w", err)
	}

	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return fmt.Errorf("parsing image reference %q: %w", imageRef, err)
	}

	if err := tarball.WriteToFile(destPath, ref, img); err != nil {
		return fmt.Errorf("writing image tarball to %s: %w", destPath, err)
	}
	return nil
}

// tarFromDir streams rootDir as an uncompressed tar archive, the raw
// form tarball.LayerFromOpener expects.
func tarFromDir(rootDir string) (io.ReadCloser, error) {
	r, w := io.Pipe()
	go func() {
		tw := tar.NewWriter(w)
		err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == rootDir {
				return nil
			}
			rel, err := filepath.Rel(rootDir, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				if _, err := io.Copy(tw, f); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			err = tw.Close()
		}
		w.CloseWithError(err)
	}()
	return r, nil
}

// MergePlan groups a layer list into runs that should be combined
// into a single layer ("Keep" layers stay as-is), the same shape the
// teacher's merge planner produces before executing it.
type MergePlan struct {
	Keep   bool
	Layers []int
}

// PlanMerge groups consecutive layers so that no merged group exceeds
// maxBytes, never splitting a single layer that is already over the
// limit (it is kept standalone instead).
func PlanMerge(sizes []int64, maxBytes int64) []MergePlan {
	var plan []MergePlan
	var group []int
	var groupSize int64

	flush := func() {
		if len(group) == 0 {
			return
		}
		if len(group) == 1 {
			plan = append(plan, MergePlan{Keep: true, Layers: group})
		} else {
			plan = append(plan, MergePlan{Keep: false, Layers: group})
		}
		group = nil
		groupSize = 0
	}

	for i, sz := range sizes {
		if sz > maxBytes {
			flush()
			plan = append(plan, MergePlan{Keep: true, Layers: []int{i}})
			continue
		}
		if groupSize+sz > maxBytes {
			flush()
		}
		group = append(group, i)
		groupSize += sz
	}
	flush()
	return plan
}

// ExecuteMerge applies a merge plan to an image, replacing each
// non-keep group of layers with a single merged layer built by
// concatenating their tar streams (last-file-wins, matching standard
// OCI whiteout/overwrite semantics for simple overlays).
func ExecuteMerge(img v1.Image, plan []MergePlan) (v1.Image, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("reading layers: %w", err)
	}

	var newLayers []v1.Layer
	for _, step := range plan {
		if step.Keep {
			newLayers = append(newLayers, layers[step.Layers[0]])
			continue
		}
		merged, err := mergeLayers(layers, step.Layers)
		if err != nil {
			return nil, err
		}
		newLayers = append(newLayers, merged)
	}

	out, err := mutate.AppendLayers(empty.Image, newLayers...)
	if err != nil {
		return nil, fmt.Errorf("rebuilding image: %w", err)
	}
	return out, nil
}

// mergeLayers concatenates the tar entries of the named layers into a
// single in-memory archive, last layer's entries winning on name
// collision per standard tar.Writer overwrite-by-append semantics.
// Built in memory (each merge group is bounded by maxBytes) rather
// than streamed, since tarball.LayerFromOpener may invoke its opener
// more than once (to hash the content, then to read it for real) and
// a single-use pipe can't satisfy a second call.
func mergeLayers(layers []v1.Layer, indices []int) (v1.Layer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, idx := range indices {
		rc, err := layers[idx].Uncompressed()
		if err != nil {
			return nil, fmt.Errorf("reading layer %d: %w", idx, err)
		}
		err = copyTarEntries(tw, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("merging layer %d: %w", idx, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing merged layer: %w", err)
	}

	content := buf.Bytes()
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	})
}

func copyTarEntries(tw *tar.Writer, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return err
			}
		}
	}
}
