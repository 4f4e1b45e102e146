package buildstep

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
)

// OCIImage extracts a pre-built OCI/Docker image's layers into the
// container root, the counterpart to internal/ociexport's write path:
// where that package turns a built root into an image, this step
// turns an image back into a root, letting a setup list start from
// something already published instead of a distribution bootstrap.
// Exactly one of Ref or TarPath should be set: Ref pulls from a
// registry, TarPath reads a tarball already on disk (as produced by
// `docker save` or internal/ociexport.ExportRoot).
type OCIImage struct {
	Ref     string // registry reference, e.g. "docker.io/library/alpine:3.19"
	TarPath string // local OCI/Docker tarball path, mutually exclusive with Ref

	fetch func() (v1.Image, error) // overridable in tests
}

func (s *OCIImage) Name() string { return "OCIImage" }

func (s *OCIImage) Hash(d *digest.Digest) error {
	d.OptString("ref", s.Ref, s.Ref != "")
	d.OptString("tar_path", s.TarPath, s.TarPath != "")
	return nil
}

// Downloads implements Downloader, reporting the registry reference;
// Build pulls the image itself.
func (s *OCIImage) Downloads() []string {
	if s.Ref == "" {
		return nil
	}
	return []string{s.Ref}
}

func (s *OCIImage) image() (v1.Image, error) {
	if s.fetch != nil {
		return s.fetch()
	}
	if s.TarPath != "" {
		return tarball.ImageFromPath(s.TarPath, nil)
	}
	ref, err := name.ParseReference(s.Ref, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("parsing image reference %q: %w", s.Ref, err)
	}
	return remote.Image(ref)
}

func (s *OCIImage) Build(ctx *buildctx.Context, dryRun bool) error {
	if dryRun {
		return nil
	}
	img, err := s.image()
	if err != nil {
		return fmt.Errorf("fetching image: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("reading image layers: %w", err)
	}
	for i, layer := range layers {
		if err := extractLayer(layer, ctx.RootDir()); err != nil {
			return fmt.Errorf("extracting layer %d: %w", i, err)
		}
	}
	return nil
}

// extractLayer unpacks one uncompressed tar layer into root. OCI
// ".wh."-prefixed whiteout entries are applied by removing their
// target rather than written out as regular files, matching the
// standard overlay whiteout convention.
func extractLayer(layer v1.Layer, root string) error {
	rc, err := layer.Uncompressed()
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		base := filepath.Base(hdr.Name)
		dir := filepath.Dir(hdr.Name)
		if strings.HasPrefix(base, ".wh.") {
			target := filepath.Join(root, dir, strings.TrimPrefix(base, ".wh."))
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("applying whiteout %s: %w", hdr.Name, err)
			}
			continue
		}

		target := filepath.Join(root, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			os.Remove(target)
			if err := os.Link(filepath.Join(root, hdr.Linkname), target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return fmt.Errorf("writing %s: %w", target, err)
			}
		}
	}
}
