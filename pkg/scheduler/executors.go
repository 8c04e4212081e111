package scheduler

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/container-build/buildcore/pkg/binarypath"
	"github.com/container-build/buildcore/pkg/buildcontext"
	"github.com/container-build/buildcore/pkg/buildcoreerrors"
	"github.com/container-build/buildcore/pkg/buildgraph"
	"github.com/container-build/buildcore/pkg/contenthash"
	"github.com/container-build/buildcore/pkg/diffmodel"
	"github.com/container-build/buildcore/pkg/logging"
	"github.com/container-build/buildcore/pkg/must"
	"github.com/container-build/buildcore/pkg/state"
	"github.com/container-build/buildcore/pkg/timeutil"
	"github.com/container-build/buildcore/pkg/utility"
)

// ioDrainTimeout is the fixed timeout applied when joining the stdout/stderr
// drain goroutines of a completed process. A process that exits while leaving
// a descendant holding its output pipes open would otherwise block the
// executor indefinitely.
const ioDrainTimeout = 3 * time.Second

// recentLogLineCount is the number of trailing output lines retained for
// failure diagnostics.
const recentLogLineCount = 20

// ImageLoader materializes a base image's root filesystem into a snapshot
// mountpoint, returning the diff records describing the resulting tree. It is
// the executor-facing seam to the registry transport, which lives outside
// this module.
type ImageLoader interface {
	Load(ctx context.Context, reference string, mountpoint string) ([]*diffmodel.Diff, error)
}

// ImageLoadExecutor handles image-load operations: it produces the base
// snapshot a stage's subsequent operations build on.
type ImageLoadExecutor struct {
	loader ImageLoader
	logger *logging.Logger
}

// NewImageLoadExecutor constructs an ImageLoadExecutor around a loader.
func NewImageLoadExecutor(loader ImageLoader, logger *logging.Logger) *ImageLoadExecutor {
	return &ImageLoadExecutor{loader: loader, logger: logger}
}

// Execute implements Executor.Execute for image-load operations.
func (e *ImageLoadExecutor) Execute(ctx context.Context, op *buildgraph.Operation, stageCtx *buildcontext.Context, mountpoint string) (*Result, error) {
	if op.Kind != buildgraph.KindImageLoad {
		return nil, buildcoreerrors.New(buildcoreerrors.KindUnsupportedOperation, "image-load executor received a "+op.Kind.String()+" operation")
	}
	if op.BaseImageReference == "" {
		return nil, buildcoreerrors.New(buildcoreerrors.KindInvalidState, "image-load operation missing base image reference")
	}

	e.logger.Debugf("loading base image %s into %s", op.BaseImageReference, mountpoint)

	diffs, err := e.loader.Load(ctx, op.BaseImageReference, mountpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load base image %q", op.BaseImageReference)
	}

	return &Result{
		MetadataChanges: map[string]string{
			"image.base": op.BaseImageReference,
		},
		Diffs: diffs,
	}, nil
}

// FileSource provides read access to the source files a filesystem operation
// copies into its snapshot mountpoint, e.g. a build context directory or a
// previous stage's committed snapshot.
type FileSource interface {
	Open(path string) (io.ReadCloser, error)
}

// FilesystemExecutor handles COPY/ADD-style operations: for each source it
// records an Added entry rooted at the operation's destination, with the
// source's content hash resolved eagerly so the entry is ready for diff-key
// encoding. Actual byte placement under the mountpoint is the snapshotter's
// concern.
type FilesystemExecutor struct {
	source FileSource
	hasher *contenthash.ContentHasher
	logger *logging.Logger
}

// NewFilesystemExecutor constructs a FilesystemExecutor around a file source.
func NewFilesystemExecutor(source FileSource, logger *logging.Logger) *FilesystemExecutor {
	return &FilesystemExecutor{
		source: source,
		hasher: contenthash.NewContentHasher(),
		logger: logger,
	}
}

// Execute implements Executor.Execute for filesystem operations.
func (e *FilesystemExecutor) Execute(ctx context.Context, op *buildgraph.Operation, stageCtx *buildcontext.Context, mountpoint string) (*Result, error) {
	if op.Kind != buildgraph.KindFilesystem {
		return nil, buildcoreerrors.New(buildcoreerrors.KindUnsupportedOperation, "filesystem executor received a "+op.Kind.String()+" operation")
	}
	if len(op.Sources) == 0 {
		return nil, buildcoreerrors.New(buildcoreerrors.KindInvalidState, "filesystem operation has no sources")
	}

	// Resolve the destination against the stage's working directory when it
	// isn't absolute.
	destination := binarypath.FromString(op.Destination)
	if !destination.HasPrefix(binarypath.FromString("/")) {
		destination = binarypath.FromString(stageCtx.WorkingDirectory()).Append(destination)
	}

	sources := utility.CopyStringSlice(op.Sources)

	diffs := make([]*diffmodel.Diff, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := e.source.Open(src)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open source %q", src)
		}
		contentDigest, hashErr := e.hasher.Hash(content)
		must.Close(content, e.logger)
		if hashErr != nil {
			return nil, errors.Wrapf(hashErr, "unable to hash source %q", src)
		}

		permissions := uint32(0o644)
		diff := &diffmodel.Diff{
			Variant: diffmodel.VariantAdded,
			Path:    destination.Append(binarypath.FromString(src).LastPathComponent()),
			Node:    diffmodel.NodeRegular,
		}
		diff.Permissions = &permissions
		diff.ContentHash = contentDigest.Bytes()
		diffs = append(diffs, diff)
	}

	e.logger.Debugf("copied %d source(s) to %s", len(diffs), destination.String())

	return &Result{Diffs: diffs}, nil
}

// Process is a started command whose output streams can be drained and whose
// exit can be awaited.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
}

// RunSpec carries everything a Runner needs to start one command.
type RunSpec struct {
	Command          []string
	Environment      map[string]string
	WorkingDirectory string
	User             string
	Mountpoint       string
}

// Runner starts processes for exec operations. The container runtime service
// that actually supervises processes lives outside this module; tests use an
// in-memory implementation.
type Runner interface {
	Start(ctx context.Context, spec RunSpec) (Process, error)
}

// ExecExecutor handles RUN-style operations: it starts the operation's
// command through a Runner against the prepared mountpoint, drains its
// output, and surfaces failures with enough context to diagnose them.
type ExecExecutor struct {
	runner Runner
	logger *logging.Logger
}

// NewExecExecutor constructs an ExecExecutor around a runner.
func NewExecExecutor(runner Runner, logger *logging.Logger) *ExecExecutor {
	return &ExecExecutor{runner: runner, logger: logger}
}

// drainLines reads r line-by-line, retaining only the trailing
// recentLogLineCount lines, and closes done when the stream ends.
func drainLines(r io.Reader, recent *[]string, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		*recent = append(*recent, scanner.Text())
		if len(*recent) > recentLogLineCount {
			*recent = (*recent)[1:]
		}
	}
}

// joinDrain waits for a drain goroutine to finish, giving up after
// ioDrainTimeout and marking timedOut if the deadline fires first. It reports
// whether the drain completed.
func joinDrain(done <-chan struct{}, timedOut *state.Marker) bool {
	timer := time.NewTimer(ioDrainTimeout)
	defer timeutil.StopAndDrainTimer(timer)
	select {
	case <-done:
		return true
	case <-timer.C:
		timedOut.Mark()
		return false
	}
}

// Execute implements Executor.Execute for exec operations.
func (e *ExecExecutor) Execute(ctx context.Context, op *buildgraph.Operation, stageCtx *buildcontext.Context, mountpoint string) (*Result, error) {
	if op.Kind != buildgraph.KindExec {
		return nil, buildcoreerrors.New(buildcoreerrors.KindUnsupportedOperation, "exec executor received a "+op.Kind.String()+" operation")
	}
	if len(op.Command) == 0 {
		return nil, buildcoreerrors.New(buildcoreerrors.KindInvalidState, "exec operation has an empty command")
	}

	environment := stageCtx.Environment()
	workingDirectory := stageCtx.WorkingDirectory()

	process, err := e.runner.Start(ctx, RunSpec{
		Command:          utility.CopyStringSlice(op.Command),
		Environment:      utility.CopyStringMap(environment),
		WorkingDirectory: workingDirectory,
		User:             stageCtx.User(),
		Mountpoint:       mountpoint,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to start command")
	}

	// Drain stdout/stderr concurrently with the wait so the process can't
	// block on a full pipe, retaining trailing lines for diagnostics.
	var stdoutLines, stderrLines []string
	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go drainLines(process.Stdout(), &stdoutLines, stdoutDone)
	go drainLines(process.Stderr(), &stderrLines, stderrDone)

	waitErr := process.Wait()

	var drainTimedOut state.Marker
	joinDrain(stdoutDone, &drainTimedOut)
	stderrDrained := joinDrain(stderrDone, &drainTimedOut)
	if drainTimedOut.Marked() {
		e.logger.Warnf("abandoned output drain for %v after %v", op.Command, ioDrainTimeout)
	}

	if waitErr != nil {
		// An abandoned stderr drain goroutine may still be appending, so its
		// lines are only safe to include once the drain has joined.
		diagnostic := "command " + strings.Join(op.Command, " ") + " failed (cwd " + workingDirectory + ")"
		if stderrDrained && len(stderrLines) > 0 {
			diagnostic += "; recent stderr: " + strings.Join(stderrLines, " / ")
		}
		return nil, buildcoreerrors.WithKind(buildcoreerrors.KindExecutionFailed, waitErr, diagnostic)
	}

	metadata := map[string]string{
		"exec.exit": "0",
	}

	return &Result{MetadataChanges: metadata}, nil
}
