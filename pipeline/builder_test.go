package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newLocalBuilder(t *testing.T) *LocalBuilder {
	t.Helper()
	return &LocalBuilder{
		BuildCmd:     "echo compiling > build.log",
		TestCmd:      "true",
		PackageCmd:   "printf 'artifact-bytes' > app.bin",
		WorkDir:      t.TempDir(),
		ArtifactFile: "app.bin",
	}
}

func TestLocalBuilderPipeline(t *testing.T) {
	b := newLocalBuilder(t)
	ctx := context.Background()

	build, err := b.Build(ctx, "abc123def456")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := b.Test(ctx, build); err != nil {
		t.Fatalf("Test: %v", err)
	}

	pkg, err := b.Package(ctx, build)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if pkg.Size != int64(len("artifact-bytes")) {
		t.Errorf("Size = %d", pkg.Size)
	}
	if !strings.HasPrefix(pkg.Version, "abc123d-") {
		t.Errorf("Version = %q, want short-revision prefix", pkg.Version)
	}
}

func TestLocalBuilderDeterministicVersion(t *testing.T) {
	b := newLocalBuilder(t)
	ctx := context.Background()

	build, _ := b.Build(ctx, "abc123def456")
	first, err := b.Package(ctx, build)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	second, err := b.Package(ctx, build)
	if err != nil {
		t.Fatalf("Package (again): %v", err)
	}
	if first.Version != second.Version {
		t.Errorf("versions differ for identical source: %q vs %q", first.Version, second.Version)
	}
}

func TestLocalBuilderFailures(t *testing.T) {
	b := newLocalBuilder(t)
	ctx := context.Background()

	b.BuildCmd = "exit 3"
	if _, err := b.Build(ctx, "rev"); err == nil {
		t.Error("expected build failure")
	}

	b.BuildCmd = "true"
	build, _ := b.Build(ctx, "rev")

	b.TestCmd = "echo 'FAIL: TestX'; exit 1"
	out, err := b.Test(ctx, build)
	if err == nil {
		t.Error("expected test failure")
	}
	if !strings.Contains(out, "FAIL: TestX") {
		t.Errorf("test output = %q", out)
	}

	b.PackageCmd = "true" // produces no artifact file
	if _, err := b.Package(ctx, build); err == nil {
		t.Error("expected package failure for missing artifact")
	}
}

func TestLocalBuilderSkipsTestWithoutCommand(t *testing.T) {
	b := newLocalBuilder(t)
	b.TestCmd = ""

	build, _ := b.Build(context.Background(), "rev")
	_, err := b.Test(context.Background(), build)
	if !errors.Is(err, ErrSkipped) {
		t.Fatalf("got %v, want ErrSkipped", err)
	}
}
