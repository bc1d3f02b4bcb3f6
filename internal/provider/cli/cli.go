// Package cli implements the provider.Discovery contract by invoking the
// configured test-runner executable as a subprocess. Listing verbs decode
// JSON from stdout; runs stream events through a JSONL file tailed by the
// ipc manager.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"testatlas/internal/ipc"
	"testatlas/internal/logger"
	"testatlas/internal/provider"
)

// Provider invokes the runner CLI configured in provider.Config.
type Provider struct {
	log logger.Logger

	// StateDir is where per-run event files are created. Defaults to
	// .testatlas under the workspace.
	StateDir string
}

// New creates a CLI-backed discovery provider.
func New(log logger.Logger) *Provider {
	if log == nil {
		log = logger.NewMemory()
	}
	return &Provider{log: log}
}

// ListFiles runs `<executable> list-files --config <file>` and decodes
// the listing from stdout.
func (p *Provider) ListFiles(ctx context.Context, cfg provider.Config) (*provider.FileListing, error) {
	out, err := p.capture(ctx, cfg, "list-files", "--config", cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	var listing provider.FileListing
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode file listing: %w", err)
	}
	return &listing, nil
}

// ListTests runs `<executable> list-tests --config <file> [files...]`
// and decodes the per-project suites from stdout.
func (p *Provider) ListTests(ctx context.Context, cfg provider.Config, files []string) (*provider.TestListing, error) {
	args := append([]string{"list-tests", "--config", cfg.ConfigFile}, files...)
	out, err := p.capture(ctx, cfg, args...)
	if err != nil {
		return nil, err
	}

	var listing provider.TestListing
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode test listing: %w", err)
	}
	return &listing, nil
}

// RunTests executes the scoped run and dispatches streamed events to the
// reporter until the process exits or ctx is cancelled.
func (p *Provider) RunTests(ctx context.Context, cfg provider.Config, req provider.RunRequest, rep provider.Reporter) error {
	return p.stream(ctx, cfg, req, nil, rep)
}

// DebugTests runs the same stream under the runner's debug verb with the
// extra environment the debug adapter needs.
func (p *Provider) DebugTests(ctx context.Context, cfg provider.Config, req provider.DebugRequest, rep provider.Reporter) error {
	return p.stream(ctx, cfg, req.RunRequest, &req, rep)
}

func (p *Provider) capture(ctx context.Context, cfg provider.Config, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cfg.Executable, args...)
	cmd.Dir = cfg.WorkspaceDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.log.Debug("invoking runner: %s %v", cfg.Executable, args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("runner %s failed: %w: %s", args[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (p *Provider) stream(ctx context.Context, cfg provider.Config, req provider.RunRequest, debug *provider.DebugRequest, rep provider.Reporter) error {
	stateDir := p.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(cfg.WorkspaceDir, ".testatlas")
	}
	eventPath := filepath.Join(stateDir, "runs", fmt.Sprintf("%d.jsonl", time.Now().UnixNano()))

	manager, err := ipc.NewManager(eventPath, p.log)
	if err != nil {
		return fmt.Errorf("failed to create event stream: %w", err)
	}
	defer func() { _ = manager.Close() }()

	if err := manager.Watch(); err != nil {
		return fmt.Errorf("failed to watch event stream: %w", err)
	}

	verb := "run"
	if debug != nil {
		verb = "debug"
	}
	args := []string{verb, "--config", cfg.ConfigFile}
	for _, project := range req.Projects {
		args = append(args, "--project", project)
	}
	if req.TitleFilter != "" {
		args = append(args, "--grep", req.TitleFilter)
	}
	args = append(args, req.Locations...)

	cmd := exec.CommandContext(ctx, cfg.Executable, args...)
	cmd.Dir = cfg.WorkspaceDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", ipc.PathEnvVar, eventPath))
	if debug != nil {
		for k, v := range debug.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.log.Info("starting run: %s %v", cfg.Executable, args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	processDone := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(processDone)
		if err := cmd.Wait(); err != nil {
			// A failing test suite exits non-zero; the reporter already
			// carries the failure, so only transport problems surface.
			if _, ok := err.(*exec.ExitError); !ok {
				return fmt.Errorf("runner exited abnormally: %w: %s", err, stderr.String())
			}
		}
		return nil
	})
	g.Go(func() error {
		return p.pump(ctx, manager, processDone, rep)
	})

	return g.Wait()
}

// pump dispatches events to the reporter until runEnd, process exit, or
// cancellation.
func (p *Provider) pump(ctx context.Context, manager *ipc.Manager, processDone <-chan struct{}, rep provider.Reporter) error {
	for {
		select {
		case event, ok := <-manager.Events:
			if !ok {
				return nil
			}
			if done := p.dispatch(event, rep); done {
				return nil
			}

		case <-processDone:
			// The process has exited but the tail may still hold events.
			deadline := time.After(500 * time.Millisecond)
			for {
				select {
				case event, ok := <-manager.Events:
					if !ok {
						rep.OnEnd(true)
						return nil
					}
					if done := p.dispatch(event, rep); done {
						return nil
					}
				case <-deadline:
					// No runEnd observed: the runner crashed or was killed.
					rep.OnEnd(true)
					return nil
				}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatch forwards one event to the reporter and reports whether the
// stream is complete.
func (p *Provider) dispatch(event ipc.Event, rep provider.Reporter) bool {
	switch e := event.(type) {
	case ipc.RunBeginEvent:
		rep.OnBegin(e.Payload.Suites)
	case ipc.TestBeginEvent:
		rep.OnTestBegin(e.Payload.Location, e.Payload.Title)
	case ipc.TestEndEvent:
		rep.OnTestEnd(e.Payload.Location, e.Payload.Title, e.Payload.Result)
	case ipc.RunErrorEvent:
		rep.OnError(e.Payload.Error)
	case ipc.RunEndEvent:
		rep.OnEnd(e.Payload.Failed)
		return true
	}
	return false
}
