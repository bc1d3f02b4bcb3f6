package provider

// Location identifies a position in a test source file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// EntryKind distinguishes suites from test cases.
type EntryKind string

const (
	EntryKindSuite EntryKind = "suite"
	EntryKindTest  EntryKind = "test"
)

// Entry is a suite or test-case node in the hierarchy reported by the
// test runner. The model treats entries as opaque beyond identity
// (location), kind, and nesting.
type Entry struct {
	Kind     EntryKind `json:"kind"`
	Title    string    `json:"title"`
	Location Location  `json:"location"`
	Children []*Entry  `json:"children,omitempty"`
}

// CountTests returns the number of test cases in this entry and its
// children.
func (e *Entry) CountTests() int {
	count := 0
	if e.Kind == EntryKindTest {
		count++
	}
	for _, c := range e.Children {
		count += c.CountTests()
	}
	return count
}

// FileSuite is the per-file grouping the runner reports when parsing or
// running tests: nested suites plus test cases declared at file level.
type FileSuite struct {
	Location Location `json:"location"`
	Suites   []*Entry `json:"suites,omitempty"`
	Tests    []*Entry `json:"tests,omitempty"`
}

// Entries returns the file's top-level entries: nested suites followed
// by direct test cases.
func (fs *FileSuite) Entries() []*Entry {
	entries := make([]*Entry, 0, len(fs.Suites)+len(fs.Tests))
	entries = append(entries, fs.Suites...)
	entries = append(entries, fs.Tests...)
	return entries
}

// HasTests reports whether the file suite contains at least one test
// case anywhere in its hierarchy.
func (fs *FileSuite) HasTests() bool {
	for _, e := range fs.Entries() {
		if e.CountTests() > 0 {
			return true
		}
	}
	return false
}

// ProjectSuite groups the file suites a runner reported for one project.
type ProjectSuite struct {
	ProjectName string      `json:"project"`
	Files       []FileSuite `json:"suites,omitempty"`
}

// ProjectUse carries per-project runner options relevant to the model.
type ProjectUse struct {
	TestIDAttribute string `json:"testIdAttribute,omitempty"`
}

// ProjectListing is one project as reported by a full discovery pass.
type ProjectListing struct {
	Name    string      `json:"name"`
	TestDir string      `json:"testDir"`
	Use     *ProjectUse `json:"use,omitempty"`
	Files   []string    `json:"files"`
}

// FileListing is the result of a full discovery pass. A non-empty Error
// means the pass failed as a whole and Projects must be ignored.
type FileListing struct {
	Error    string           `json:"error,omitempty"`
	Projects []ProjectListing `json:"projects"`
}

// TestError is a non-fatal error produced while parsing test files.
type TestError struct {
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
}

func (e TestError) Error() string { return e.Message }

// TestListing is the result of a targeted parse: per-project suites plus
// whatever parse errors occurred. Partial results are valid alongside
// errors.
type TestListing struct {
	Suites []ProjectSuite `json:"suites"`
	Errors []TestError    `json:"errors,omitempty"`
}

// Config identifies one test-runner configuration within a workspace.
type Config struct {
	WorkspaceDir string `json:"workspaceDir"`
	ConfigFile   string `json:"configFile"`
	Executable   string `json:"executable"`
	Version      string `json:"version,omitempty"`
}

// RunRequest scopes a test run.
type RunRequest struct {
	Projects    []string `json:"projects"`
	Locations   []string `json:"locations,omitempty"`
	TitleFilter string   `json:"titleFilter,omitempty"`
}

// DebugRequest scopes a debug session. TestDirs carries each project's
// test root for the debug adapter.
type DebugRequest struct {
	RunRequest
	Env      map[string]string `json:"env,omitempty"`
	TestDirs []string          `json:"testDirs,omitempty"`
}

// TestResult is the terminal outcome of one test case during a run.
type TestResult struct {
	Status   string  `json:"status"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Reporter receives streamed events while a run executes.
type Reporter interface {
	// OnBegin delivers the suite structure the runner observed at run
	// start. The structure may be partial.
	OnBegin(suites []ProjectSuite)
	OnTestBegin(location Location, title string)
	OnTestEnd(location Location, title string, result TestResult)
	OnError(err TestError)
	OnEnd(failed bool)
}
