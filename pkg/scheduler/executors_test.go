package scheduler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"strings"
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/buildcontext"
	"github.com/container-build/buildcore/pkg/buildcoreerrors"
	"github.com/container-build/buildcore/pkg/buildgraph"
	"github.com/container-build/buildcore/pkg/diffmodel"
	"github.com/container-build/buildcore/pkg/logging"
)

func newTestStageContext(t *testing.T) *buildcontext.Context {
	t.Helper()
	return buildcontext.New(v1.Platform{OS: "linux", Architecture: "amd64"}, recordingSnapshotter{}, t.TempDir())
}

// stubImageLoader returns a fixed diff set for any reference.
type stubImageLoader struct {
	diffs []*diffmodel.Diff
	err   error
}

func (l stubImageLoader) Load(ctx context.Context, reference string, mountpoint string) ([]*diffmodel.Diff, error) {
	return l.diffs, l.err
}

func TestImageLoadExecutor(t *testing.T) {
	perm := uint32(0o755)
	diffs := []*diffmodel.Diff{
		{Variant: diffmodel.VariantAdded, Node: diffmodel.NodeDirectory, Attributes: diffmodel.Attributes{Permissions: &perm}},
	}
	executor := NewImageLoadExecutor(stubImageLoader{diffs: diffs}, logging.RootLogger.Sublogger("test"))

	op := &buildgraph.Operation{
		ID:                 "base",
		Kind:               buildgraph.KindImageLoad,
		OperationDigest:    opDigest("base"),
		BaseImageReference: "docker.io/library/alpine:3.20",
	}
	result, err := executor.Execute(context.Background(), op, newTestStageContext(t), "/tmp/mnt")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.MetadataChanges["image.base"] != op.BaseImageReference {
		t.Error("expected base image reference in metadata changes")
	}
	if len(result.Diffs) != 1 {
		t.Errorf("expected loader diffs to pass through, got %d", len(result.Diffs))
	}
}

func TestImageLoadExecutorRejectsWrongKind(t *testing.T) {
	executor := NewImageLoadExecutor(stubImageLoader{}, logging.RootLogger.Sublogger("test"))
	op := &buildgraph.Operation{ID: "x", Kind: buildgraph.KindExec, OperationDigest: opDigest("x")}
	_, err := executor.Execute(context.Background(), op, newTestStageContext(t), "/tmp/mnt")
	if !buildcoreerrors.Is(err, buildcoreerrors.KindUnsupportedOperation) {
		t.Errorf("expected unsupportedOperation, got %v", err)
	}
}

// mapFileSource serves file content from an in-memory map.
type mapFileSource map[string][]byte

func (s mapFileSource) Open(path string) (io.ReadCloser, error) {
	data, ok := s[path]
	if !ok {
		return nil, buildcoreerrors.New(buildcoreerrors.KindNotFound, "no such source file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestFilesystemExecutorRecordsAddsWithContentHashes(t *testing.T) {
	payload := []byte("package main\n")
	source := mapFileSource{"main.go": payload}
	executor := NewFilesystemExecutor(source, logging.RootLogger.Sublogger("test"))

	stageCtx := newTestStageContext(t)
	stageCtx.SetWorkingDirectory("/src")

	op := &buildgraph.Operation{
		ID:              "copy",
		Kind:            buildgraph.KindFilesystem,
		OperationDigest: opDigest("copy"),
		Sources:         []string{"main.go"},
		Destination:     "app",
	}
	result, err := executor.Execute(context.Background(), op, stageCtx, "/tmp/mnt")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(result.Diffs) != 1 {
		t.Fatalf("expected one diff, got %d", len(result.Diffs))
	}

	diff := result.Diffs[0]
	if diff.Variant != diffmodel.VariantAdded {
		t.Error("expected an added record")
	}
	if got := diff.Path.String(); got != "/src/app/main.go" {
		t.Errorf("expected destination resolved against the working directory, got %q", got)
	}
	expected := sha256.Sum256(payload)
	if !bytes.Equal(diff.ContentHash, expected[:]) {
		t.Error("content hash does not match source content")
	}
}

func TestFilesystemExecutorPropagatesMissingSource(t *testing.T) {
	executor := NewFilesystemExecutor(mapFileSource{}, logging.RootLogger.Sublogger("test"))
	op := &buildgraph.Operation{
		ID:              "copy",
		Kind:            buildgraph.KindFilesystem,
		OperationDigest: opDigest("copy"),
		Sources:         []string{"missing.txt"},
		Destination:     "/app",
	}
	if _, err := executor.Execute(context.Background(), op, newTestStageContext(t), "/tmp/mnt"); err == nil {
		t.Fatal("expected an error for a missing source")
	}
}

// stubProcess implements Process over fixed output streams.
type stubProcess struct {
	stdout  io.Reader
	stderr  io.Reader
	waitErr error
}

func (p stubProcess) Stdout() io.Reader { return p.stdout }
func (p stubProcess) Stderr() io.Reader { return p.stderr }
func (p stubProcess) Wait() error       { return p.waitErr }

// stubRunner hands back a canned process, recording the spec it was started
// with.
type stubRunner struct {
	process Process
	spec    *RunSpec
}

func (r *stubRunner) Start(ctx context.Context, spec RunSpec) (Process, error) {
	r.spec = &spec
	return r.process, nil
}

func TestExecExecutorSuccess(t *testing.T) {
	runner := &stubRunner{process: stubProcess{
		stdout: strings.NewReader("hello\n"),
		stderr: strings.NewReader(""),
	}}
	executor := NewExecExecutor(runner, logging.RootLogger.Sublogger("test"))

	stageCtx := newTestStageContext(t)
	stageCtx.SetEnvironment(map[string]string{"PATH": "/usr/bin"})
	stageCtx.SetWorkingDirectory("/work")
	stageCtx.SetUser("builder")

	op := &buildgraph.Operation{
		ID:              "run",
		Kind:            buildgraph.KindExec,
		OperationDigest: opDigest("run"),
		Command:         []string{"/bin/echo", "hello"},
	}
	result, err := executor.Execute(context.Background(), op, stageCtx, "/tmp/mnt")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.MetadataChanges["exec.exit"] != "0" {
		t.Error("expected a zero exit recorded in metadata changes")
	}

	if runner.spec == nil {
		t.Fatal("runner was never started")
	}
	if runner.spec.WorkingDirectory != "/work" || runner.spec.User != "builder" {
		t.Error("expected the stage context's working directory and user to reach the runner")
	}
	if runner.spec.Environment["PATH"] != "/usr/bin" {
		t.Error("expected the stage context's environment to reach the runner")
	}
}

func TestExecExecutorFailureCarriesDiagnostics(t *testing.T) {
	runner := &stubRunner{process: stubProcess{
		stdout:  strings.NewReader(""),
		stderr:  strings.NewReader("sh: command not found\n"),
		waitErr: errors.New("exit status 127"),
	}}
	executor := NewExecExecutor(runner, logging.RootLogger.Sublogger("test"))

	op := &buildgraph.Operation{
		ID:              "run",
		Kind:            buildgraph.KindExec,
		OperationDigest: opDigest("run"),
		Command:         []string{"definitely-not-a-command"},
	}
	_, err := executor.Execute(context.Background(), op, newTestStageContext(t), "/tmp/mnt")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !buildcoreerrors.Is(err, buildcoreerrors.KindExecutionFailed) {
		t.Errorf("expected executionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "command not found") {
		t.Errorf("expected recent stderr in the error, got %q", err.Error())
	}
}

func TestExecExecutorRejectsEmptyCommand(t *testing.T) {
	executor := NewExecExecutor(&stubRunner{process: stubProcess{}}, logging.RootLogger.Sublogger("test"))
	op := &buildgraph.Operation{ID: "run", Kind: buildgraph.KindExec, OperationDigest: opDigest("run")}
	_, err := executor.Execute(context.Background(), op, newTestStageContext(t), "/tmp/mnt")
	if !buildcoreerrors.Is(err, buildcoreerrors.KindInvalidState) {
		t.Errorf("expected invalidState, got %v", err)
	}
}
