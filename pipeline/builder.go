package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Builder is the narrow interface to the build system. The orchestrator
// treats compilation, test running, and packaging as external
// collaborators: it only sees their pass/fail outcome and output.
type Builder interface {
	Build(ctx context.Context, revision string) (*BuildResult, error)
	Test(ctx context.Context, build *BuildResult) (string, error)
	Package(ctx context.Context, build *BuildResult) (*PackageResult, error)
}

type BuildResult struct {
	Revision string
	WorkDir  string
	Output   string
}

// PackageResult is one addressable artifact file with its version tag.
type PackageResult struct {
	Version string
	Path    string
	Size    int64
	Output  string
}

func (p *PackageResult) Open() (io.ReadCloser, error) {
	return os.Open(p.Path)
}

// LocalBuilder shells out to the configured build, test, and package
// commands inside a per-revision work dir. Identical revisions produce
// identical artifacts, which keeps re-runs idempotent.
type LocalBuilder struct {
	BuildCmd     string
	TestCmd      string
	PackageCmd   string
	WorkDir      string
	ArtifactFile string // path of the packaged artifact, relative to the work dir
}

func (b *LocalBuilder) Build(ctx context.Context, revision string) (*BuildResult, error) {
	dir := filepath.Join(b.WorkDir, revision)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	out, err := b.run(ctx, dir, b.BuildCmd)
	if err != nil {
		return nil, fmt.Errorf("build: %w: %s", err, out)
	}
	return &BuildResult{Revision: revision, WorkDir: dir, Output: out}, nil
}

func (b *LocalBuilder) Test(ctx context.Context, build *BuildResult) (string, error) {
	if b.TestCmd == "" {
		return "no test command configured", ErrSkipped
	}
	out, err := b.run(ctx, build.WorkDir, b.TestCmd)
	if err != nil {
		return out, fmt.Errorf("test: %w: %s", err, out)
	}
	return out, nil
}

func (b *LocalBuilder) Package(ctx context.Context, build *BuildResult) (*PackageResult, error) {
	out, err := b.run(ctx, build.WorkDir, b.PackageCmd)
	if err != nil {
		return nil, fmt.Errorf("package: %w: %s", err, out)
	}

	path := filepath.Join(build.WorkDir, b.ArtifactFile)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("package: artifact missing at %s: %w", path, err)
	}

	version, err := artifactVersion(build.Revision, path)
	if err != nil {
		return nil, err
	}
	return &PackageResult{Version: version, Path: path, Size: info.Size(), Output: out}, nil
}

func (b *LocalBuilder) run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// artifactVersion derives a content-addressed version: short revision
// plus a digest of the artifact bytes. Deterministic for identical
// source, distinct for any changed output.
func artifactVersion(revision, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	rev := revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	return rev + "-" + hex.EncodeToString(h.Sum(nil))[:12], nil
}
