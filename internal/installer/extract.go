package installer

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/standardbeagle/athena-bridge/internal/command"
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, archive, dest string) error
}

// DefaultExtractors returns the extraction chain for the current OS:
// in-process first, then the OS-provided tool, then a python fallback.
func DefaultExtractors() []Extractor {
	chain := []Extractor{NativeExtractor{}}
	if runtime.GOOS == "windows" {
		chain = append(chain, CommandExtractor{
			Tool: "powershell.exe",
			Args: func(archive, dest string) []string {
				return []string{"-NoLogo", "-NoProfile", "-Command",
					fmt.Sprintf("Expand-Archive -Path '%s' -DestinationPath '%s' -Force", archive, dest)}
			},
		})
	} else {
		chain = append(chain, CommandExtractor{
			Tool: "unzip",
			Args: func(archive, dest string) []string {
				return []string{"-o", archive, "-d", dest}
			},
		})
	}
	return append(chain, CommandExtractor{
		Tool: "python3",
		Args: func(archive, dest string) []string {
			return []string{"-c", "import sys, zipfile; zipfile.ZipFile(sys.argv[1]).extractall(sys.argv[2])", archive, dest}
		},
	})
}

// NativeExtractor unpacks .zip and .tgz archives in process.
type NativeExtractor struct{}

func (NativeExtractor) Name() string { return "native" }

func (NativeExtractor) Extract(ctx context.Context, archive, dest string) error {
	lower := strings.ToLower(archive)
	if strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar.gz") {
		return extractTarGz(archive, dest)
	}
	return extractZip(ctx, archive, dest)
}

func extractZip(ctx context.Context, archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
	}
}

// safeJoin rejects entries that would land outside dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CommandExtractor shells out to an external tool.
type CommandExtractor struct {
	Tool string
	Args func(archive, dest string) []string
}

func (c CommandExtractor) Name() string { return c.Tool }

func (c CommandExtractor) Extract(ctx context.Context, archive, dest string) error {
	path, ok := command.Resolve(c.Tool)
	if !ok {
		return fmt.Errorf("%s not available", c.Tool)
	}
	out, err := exec.CommandContext(ctx, path, c.Args(archive, dest)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", c.Tool, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// extract runs the extractor chain until one succeeds.
func (i *Installer) extract(ctx context.Context, archive, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	var errs []error
	for _, ex := range i.extractors {
		err := ex.Extract(ctx, archive, dest)
		if err == nil {
			i.logger.Debug("archive extracted", "extractor", ex.Name())
			return nil
		}
		i.logger.Debug("extractor failed", "extractor", ex.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", ex.Name(), err))
	}
	return fmt.Errorf("%w: %v", ErrNoExtractor, errors.Join(errs...))
}
