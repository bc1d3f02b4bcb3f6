// Package model keeps the authoritative in-memory tree of test
// projects, files, and entries consistent as three independent change
// streams arrive: full discovery, targeted re-parsing, and live run
// observation. It owns all mutation; consumers read snapshots and
// subscribe to a single coalesced change signal.
package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"testatlas/internal/logger"
	"testatlas/internal/provider"
)

// DiscoveryError is a top-level failure reported by a full discovery
// pass, for example a configuration that failed to load. No model state
// changes when one occurs.
type DiscoveryError struct {
	Message string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("test discovery failed: %s", e.Message)
}

// Change is one pre-classified batch of filesystem events.
type Change struct {
	Created []string
	Changed []string
	Deleted []string
}

// Model is the per-configuration root of the test tree. All
// reconciliation entry points serialize on an operation mutex held for
// the whole pass, including the discovery call, so two passes never
// interleave their mutations.
type Model struct {
	cfg       provider.Config
	discovery provider.Discovery
	log       logger.Logger

	sourceMap *SourceMapIndex
	notifier  *Notifier

	opMu sync.Mutex // serializes reconciliation passes

	mu              sync.RWMutex // guards projects and testIDAttribute
	projects        map[string]*Project
	testIDAttribute string
}

// New creates an empty model for one runner configuration. The resolver
// may be nil when the workspace has no source maps.
func New(cfg provider.Config, discovery provider.Discovery, resolver Resolver, log logger.Logger) (*Model, error) {
	if discovery == nil {
		return nil, fmt.Errorf("discovery provider is required")
	}
	if log == nil {
		log = logger.NewMemory()
	}

	sourceMap, err := NewSourceMapIndex(resolver)
	if err != nil {
		return nil, err
	}

	return &Model{
		cfg:       cfg,
		discovery: discovery,
		log:       log,
		sourceMap: sourceMap,
		notifier:  NewNotifier(),
		projects:  make(map[string]*Project),
	}, nil
}

// Config returns the runner configuration the model was created for.
func (m *Model) Config() provider.Config {
	return m.cfg
}

// Subscribe registers for the coalesced model-changed signal.
func (m *Model) Subscribe() (<-chan struct{}, func()) {
	return m.notifier.Subscribe()
}

// TestIDAttribute returns the test-ID attribute captured from the most
// recent discovery pass.
func (m *Model) TestIDAttribute() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.testIDAttribute
}

// AllProjects returns every known project, sorted by name. The returned
// projects are read-only views safe to hold across reconciliation
// passes; mutation happens through reconciliation and SetProjectEnabled
// only.
func (m *Model) AllProjects() []*Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedProjectsLocked(false)
}

// EnabledProjects returns the enabled projects, sorted by name.
func (m *Model) EnabledProjects() []*Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedProjectsLocked(true)
}

func (m *Model) sortedProjectsLocked(enabledOnly bool) []*Project {
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		if enabledOnly && !p.enabled {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledFiles flattens the file paths of all enabled projects. A path
// present in several projects appears once per project.
func (m *Model) EnabledFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, p := range m.sortedProjectsLocked(true) {
		out = append(out, p.filePathsLocked()...)
	}
	return out
}

// NarrowDownFilesToEnabledProjects filters a file list to paths known
// to at least one enabled project, preserving input order. A nil list
// means "all files" and returns EnabledFiles.
func (m *Model) NarrowDownFilesToEnabledProjects(files []string) []string {
	if files == nil {
		return m.EnabledFiles()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(files))
	for _, path := range files {
		for _, p := range m.projects {
			if !p.enabled {
				continue
			}
			if _, ok := p.files[path]; ok {
				out = append(out, path)
				break
			}
		}
	}
	return out
}

// Project looks up a project by name.
func (m *Model) Project(name string) (*Project, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[name]
	return p, ok
}

// SetProjectEnabled flips a project's enabled flag and notifies
// immediately. Unknown names are a no-op.
func (m *Model) SetProjectEnabled(name string, enabled bool) {
	m.mu.Lock()
	p, ok := m.projects[name]
	if ok {
		p.enabled = enabled
	}
	m.mu.Unlock()

	if ok {
		m.notifier.Notify()
	}
}

// ListFiles runs a full discovery pass and strictly reconciles the
// project and file sets against the report: unknown reported projects
// and files are created, known ones not reported are pruned. A
// top-level discovery failure is returned without mutating anything.
// Exactly one change notification fires at the end of the pass.
func (m *Model) ListFiles(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.listFiles(ctx)
}

func (m *Model) listFiles(ctx context.Context) error {
	listing, err := m.discovery.ListFiles(ctx, m.cfg)
	if err != nil {
		return err
	}
	if listing.Error != "" {
		return &DiscoveryError{Message: listing.Error}
	}

	m.mu.Lock()
	reportedProjects := make(map[string]bool, len(listing.Projects))
	for _, pl := range listing.Projects {
		reportedProjects[pl.Name] = true

		if pl.Use != nil && pl.Use.TestIDAttribute != "" {
			m.testIDAttribute = pl.Use.TestIDAttribute
		}

		project, ok := m.projects[pl.Name]
		if !ok {
			project = newProject(pl.Name, pl.TestDir, &m.mu)
			m.projects[pl.Name] = project
			m.log.Debug("discovered project %q (testDir=%s)", pl.Name, pl.TestDir)
		}
		project.testDir = pl.TestDir

		reportedFiles := make(map[string]bool, len(pl.Files))
		for _, reported := range pl.Files {
			// An emitted file may expand to several sources; all of
			// them belong to the project.
			for _, src := range m.sourceMap.Resolve(reported) {
				reportedFiles[src] = true
				if _, ok := project.files[src]; !ok {
					project.files[src] = newFile(pl.Name, src, &m.mu)
				}
			}
		}
		for path := range project.files {
			if !reportedFiles[path] {
				delete(project.files, path)
			}
		}
	}
	for name := range m.projects {
		if !reportedProjects[name] {
			delete(m.projects, name)
			m.log.Debug("pruned project %q", name)
		}
	}
	m.mu.Unlock()

	m.notifier.Notify()
	return nil
}

// ListTests re-parses exactly the given files and replaces the affected
// files' entries. A requested file the runner returned no suite for is
// confirmed empty rather than left stale. Parse errors are returned as
// data alongside whatever did apply; one notification fires at the end.
func (m *Model) ListTests(ctx context.Context, files []string) ([]provider.TestError, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.listTests(ctx, files)
}

func (m *Model) listTests(ctx context.Context, files []string) ([]provider.TestError, error) {
	listing, err := m.discovery.ListTests(ctx, m.cfg, files)
	if err != nil {
		return nil, err
	}

	suitesByProject := make(map[string]provider.ProjectSuite, len(listing.Suites))
	for _, ps := range listing.Suites {
		suitesByProject[ps.ProjectName] = ps
	}

	m.mu.Lock()
	for _, project := range m.projects {
		// Requested paths this project knows about and that no suite
		// has satisfied yet.
		pending := make(map[string]bool)
		for _, path := range files {
			if _, ok := project.files[path]; ok {
				pending[path] = true
			}
		}

		// A project absent from the report produced nothing this pass;
		// its pending files are confirmed empty below.
		if ps, ok := suitesByProject[project.Name]; ok {
			for i := range ps.Files {
				fs := &ps.Files[i]
				path := fs.Location.File
				delete(pending, path)
				if file, ok := project.files[path]; ok {
					file.setEntries(fs.Entries())
				}
			}
		}

		for path := range pending {
			project.files[path].setEntries(nil)
		}
	}
	m.mu.Unlock()

	m.notifier.Notify()
	return listing.Errors, nil
}

// UpdateFromRunningProjects ingests suites observed while a run is
// executing. Unlike discovery it never deletes and may create files the
// model has not seen, but it never clobbers entries a file already has.
// File suites without a single test are placeholder structure and are
// skipped. The change notification is unconditional.
func (m *Model) UpdateFromRunningProjects(suites []provider.ProjectSuite) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	for _, ps := range suites {
		project, ok := m.projects[ps.ProjectName]
		if !ok {
			continue
		}
		for i := range ps.Files {
			fs := &ps.Files[i]
			if !fs.HasTests() {
				continue
			}
			path := fs.Location.File
			file, ok := project.files[path]
			if !ok {
				file = newFile(project.Name, path, &m.mu)
				project.files[path] = file
			}
			if !file.parsed {
				file.setEntries(fs.Entries())
			}
		}
	}
	m.mu.Unlock()

	m.notifier.Notify()
}

// WorkspaceChanged translates a pre-classified filesystem change batch
// into the minimal reconciliation work: deletions prune files directly,
// creations under any project's test root trigger a full discovery
// pass, and changes to already-parsed files trigger one targeted
// re-parse across all projects. At most one notification fires beyond
// those of the triggered passes, and only if a deletion changed the
// model structurally without a pass covering it.
func (m *Model) WorkspaceChanged(ctx context.Context, change Change) ([]provider.TestError, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	created := m.sourceMap.Translate(change.Created)
	changed := m.sourceMap.Translate(change.Changed)
	deleted := m.sourceMap.Translate(change.Deleted)

	m.mu.Lock()
	structural := false
	for _, project := range m.projects {
		for path := range deleted {
			if _, ok := project.files[path]; ok {
				delete(project.files, path)
				structural = true
			}
		}
	}

	fullDiscovery := false
	for _, project := range m.projects {
		for path := range created {
			if underDir(path, project.testDir) {
				fullDiscovery = true
				break
			}
		}
		if fullDiscovery {
			break
		}
	}
	m.mu.Unlock()

	passFired := false
	if fullDiscovery {
		// New files may shift project membership in ways only a full
		// pass resolves.
		if err := m.listFiles(ctx); err != nil {
			return nil, err
		}
		passFired = true
	}

	m.mu.Lock()
	reparse := make(map[string]bool)
	for _, project := range m.projects {
		for path := range changed {
			if file, ok := project.files[path]; ok && file.parsed {
				reparse[path] = true
			}
		}
	}
	m.mu.Unlock()

	var parseErrors []provider.TestError
	if len(reparse) > 0 {
		paths := make([]string, 0, len(reparse))
		for path := range reparse {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		errs, err := m.listTests(ctx, paths)
		if err != nil {
			return nil, err
		}
		parseErrors = errs
		passFired = true
	}

	if structural && !passFired {
		m.notifier.Notify()
	}
	return parseErrors, nil
}

// RunTests executes a test run scoped to the enabled projects, feeding
// the run's observed suite structure back into the model before
// forwarding events to the caller's reporter. Cancellation travels
// through ctx.
func (m *Model) RunTests(ctx context.Context, req provider.RunRequest, rep provider.Reporter) error {
	if len(req.Projects) == 0 {
		req.Projects = m.enabledProjectNames()
	}
	return m.discovery.RunTests(ctx, m.cfg, req, &runReporter{model: m, inner: rep})
}

// DebugTests is RunTests under the debug adapter, with per-project test
// directories attached for it.
func (m *Model) DebugTests(ctx context.Context, req provider.DebugRequest, rep provider.Reporter) error {
	if len(req.Projects) == 0 {
		req.Projects = m.enabledProjectNames()
	}
	if req.TestDirs == nil {
		for _, p := range m.EnabledProjects() {
			req.TestDirs = append(req.TestDirs, p.TestDir())
		}
	}
	return m.discovery.DebugTests(ctx, m.cfg, req, &runReporter{model: m, inner: rep})
}

func (m *Model) enabledProjectNames() []string {
	var names []string
	for _, p := range m.EnabledProjects() {
		names = append(names, p.Name)
	}
	return names
}

// underDir reports whether path is dir or inside dir.
func underDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	dir = strings.TrimRight(dir, "/")
	return path == dir || strings.HasPrefix(path, dir+"/")
}

// runReporter feeds run observations into the model before forwarding
// them to the caller's reporter, which may be nil.
type runReporter struct {
	model *Model
	inner provider.Reporter
}

func (r *runReporter) OnBegin(suites []provider.ProjectSuite) {
	r.model.UpdateFromRunningProjects(suites)
	if r.inner != nil {
		r.inner.OnBegin(suites)
	}
}

func (r *runReporter) OnTestBegin(location provider.Location, title string) {
	if r.inner != nil {
		r.inner.OnTestBegin(location, title)
	}
}

func (r *runReporter) OnTestEnd(location provider.Location, title string, result provider.TestResult) {
	if r.inner != nil {
		r.inner.OnTestEnd(location, title, result)
	}
}

func (r *runReporter) OnError(err provider.TestError) {
	r.model.log.Warn("run error: %s", err.Message)
	if r.inner != nil {
		r.inner.OnError(err)
	}
}

func (r *runReporter) OnEnd(failed bool) {
	if r.inner != nil {
		r.inner.OnEnd(failed)
	}
}
