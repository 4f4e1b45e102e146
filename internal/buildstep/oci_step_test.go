package buildstep

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/vagga-go/vagga/internal/buildctx"
	"github.com/vagga-go/vagga/internal/digest"
)

func singleFileImage(t *testing.T, name, content string) v1.Image {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestOCIImageExtractsLayerIntoRoot(t *testing.T) {
	img := singleFileImage(t, "etc/hello.txt", "hi there")
	step := &OCIImage{Ref: "example.com/hello:latest", fetch: func() (v1.Image, error) { return img, nil }}

	ctx := buildctx.New(t.TempDir(), t.TempDir())
	if err := step.Build(ctx, false); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(ctx.RootDir(), "etc", "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi there" {
		t.Fatalf("expected extracted file content %q, got %q", "hi there", got)
	}
}

func TestOCIImageDryRunDoesNotFetch(t *testing.T) {
	step := &OCIImage{Ref: "example.com/hello:latest", fetch: func() (v1.Image, error) {
		t.Fatal("fetch should not be called during a dry run")
		return nil, nil
	}}
	ctx := buildctx.New(t.TempDir(), t.TempDir())
	if err := step.Build(ctx, true); err != nil {
		t.Fatal(err)
	}
}

func TestOCIImageDownloadsReportsRef(t *testing.T) {
	step := &OCIImage{Ref: "example.com/hello:latest"}
	if got := step.Downloads(); len(got) != 1 || got[0] != "example.com/hello:latest" {
		t.Fatalf("expected downloads to report the ref, got %v", got)
	}
	tarOnly := &OCIImage{TarPath: "/tmp/image.tar"}
	if got := tarOnly.Downloads(); got != nil {
		t.Fatalf("expected no downloads for a local tar path, got %v", got)
	}
}

func TestOCIImageHashDistinguishesRefFromTarPath(t *testing.T) {
	a := digest.New(false)
	if err := (&OCIImage{Ref: "example.com/hello:latest"}).Hash(a); err != nil {
		t.Fatal(err)
	}
	b := digest.New(false)
	if err := (&OCIImage{TarPath: "/tmp/image.tar"}).Hash(b); err != nil {
		t.Fatal(err)
	}
	if a.ResultHex() == b.ResultHex() {
		t.Fatal("expected Ref and TarPath sources to hash differently")
	}
}
