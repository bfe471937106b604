package gpt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/jackzampolin/sarproc/internal/logfilter"
	"github.com/jackzampolin/sarproc/internal/proc"
)

const (
	// DefaultImage is the container image providing the graph tool.
	DefaultImage = "mundialis/esa-snap:latest"
	// Label marks containers started by the runner.
	Label = "sarproc-stage"
)

// engine is the subset of the container engine the runner needs.
type engine interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Start(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	Wait(ctx context.Context, id string) (int64, error)
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// DockerRunner runs the graph tool inside a container. Host paths are bind
// mounted at the same location so stage arguments need no rewriting.
//
// Only wall-clock time is measured; the engine does not report the
// container's CPU times after exit.
type DockerRunner struct {
	rt          engine
	image       string
	exec        string
	mounts      []mount.Mount
	threads     int
	constrained bool
	timeout     time.Duration
	output      io.Writer
	filter      *logfilter.Filter
	logger      *slog.Logger

	mu    sync.Mutex
	ready bool
}

// DockerConfig configures a DockerRunner.
type DockerConfig struct {
	Image string
	// Exec is the tool path inside the image.
	Exec string
	// Mounts are host paths bind mounted at the same path, or "host:container" pairs.
	Mounts      []string
	Threads     int
	Constrained bool
	Timeout     time.Duration
	Output      io.Writer
	Filter      *logfilter.Filter
	Logger      *slog.Logger
}

// NewDockerRunner creates a DockerRunner using the engine from the environment.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerRunner(&dockerRuntime{cli: cli}, cfg)
}

func newDockerRunner(rt engine, cfg DockerConfig) (*DockerRunner, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Exec == "" {
		cfg.Exec = DefaultExecutable
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mounts, err := parseMounts(cfg.Mounts)
	if err != nil {
		return nil, err
	}

	return &DockerRunner{
		rt:          rt,
		image:       cfg.Image,
		exec:        cfg.Exec,
		mounts:      mounts,
		threads:     cfg.Threads,
		constrained: cfg.Constrained,
		timeout:     cfg.Timeout,
		output:      cfg.Output,
		filter:      cfg.Filter,
		logger:      cfg.Logger,
	}, nil
}

// Close closes the engine client.
func (r *DockerRunner) Close() error {
	return r.rt.Close()
}

// Run executes one stage in a fresh container and removes it afterwards.
func (r *DockerRunner) Run(ctx context.Context, spec StageSpec) (proc.Result, error) {
	if err := r.prepare(ctx); err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, err
	}

	threads := 0
	if r.constrained {
		threads = r.threads
	}

	cfg := &container.Config{
		Image:  r.image,
		Cmd:    append([]string{r.exec}, Args(spec, threads)...),
		Labels: map[string]string{Label: spec.Label()},
	}
	host := &container.HostConfig{Mounts: r.mounts}

	name := "sarproc-" + uuid.NewString()[:8]
	r.logger.Info("running stage", "stage", spec.Label(), "ordinal", spec.Ordinal, "graph", spec.Graph, "container", name)

	start := time.Now()
	id, err := r.rt.Create(ctx, name, cfg, host)
	if err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Removal uses a fresh context so cancelled runs still clean up
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.rt.Remove(rmCtx, id); err != nil {
			r.logger.Warn("failed to remove container", "container", name, "error", err)
		}
	}()

	if err := r.rt.Start(ctx, id); err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := r.rt.Logs(ctx, id)
	if err != nil {
		return proc.Result{ExitCode: proc.ExitNotStarted}, fmt.Errorf("failed to attach container logs: %w", err)
	}
	w := logfilter.NewWriter(r.output, r.filter)
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		defer logs.Close()
		_, _ = stdcopy.StdCopy(w, w, logs)
	}()

	waitCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	code, waitErr := r.rt.Wait(waitCtx, id)
	res := proc.Result{ExitCode: int(code)}

	if waitErr != nil {
		killCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.rt.Kill(killCtx, id); err != nil {
			r.logger.Warn("failed to kill container", "container", name, "error", err)
		}
		cancel()
	}
	select {
	case <-copied:
	case <-time.After(30 * time.Second):
		r.logger.Warn("container log stream did not close", "container", name)
	}
	_ = w.Close()
	res.Elapsed.Real = time.Since(start)

	switch {
	case waitErr == nil:
		return res, nil
	case ctx.Err() != nil:
		res.ExitCode = proc.ExitKilled
		return res, fmt.Errorf("stage %s interrupted: %w", spec.Label(), ctx.Err())
	case errors.Is(waitErr, context.DeadlineExceeded):
		res.ExitCode = proc.ExitKilled
		res.TimedOut = true
		r.logger.Warn("stage timed out", "stage", spec.Label(), "timeout", r.timeout)
		return res, nil
	default:
		res.ExitCode = proc.ExitKilled
		return res, fmt.Errorf("failed waiting for container: %w", waitErr)
	}
}

// prepare checks the engine and image once per runner.
func (r *DockerRunner) prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}

	err := retry.Do(
		func() error { return r.rt.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
	)
	if err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	err = retry.Do(
		func() error { return r.rt.EnsureImage(ctx, r.image) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.image, err)
	}

	r.ready = true
	return nil
}

func parseMounts(specs []string) ([]mount.Mount, error) {
	mounts := make([]mount.Mount, 0, len(specs))
	for _, s := range specs {
		src, dst, found := strings.Cut(s, ":")
		if !found {
			dst = src
		}
		if src == "" || dst == "" {
			return nil, fmt.Errorf("invalid mount %q", s)
		}
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: src,
			Target: dst,
		})
	}
	return mounts, nil
}

// dockerRuntime adapts the engine client to engine.
type dockerRuntime struct {
	cli *client.Client
}

func (d *dockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *dockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Drain reader to complete pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *dockerRuntime) Create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerRuntime) Start(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (d *dockerRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}

func (d *dockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, errors.New(st.Error.Message)
		}
		return st.StatusCode, nil
	}
}

func (d *dockerRuntime) Kill(ctx context.Context, id string) error {
	return d.cli.ContainerKill(ctx, id, "KILL")
}

func (d *dockerRuntime) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (d *dockerRuntime) Close() error {
	return d.cli.Close()
}
