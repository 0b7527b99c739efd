package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/flowengine/flowengine/pkg/runner"
)

// LoadedWorkflow is `{definition, filePath, lastModified}`
// tuple for one successfully parsed and validated file.
type LoadedWorkflow struct {
	Definition   *runner.WorkflowDefinition
	FilePath     string
	LastModified time.Time
}

// LoadError is one file's discovery/parse/validation failure. A bad file
// never aborts discovery of the rest.
type LoadError struct {
	FilePath string
	Err      error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.FilePath, e.Err)
}

// LoadResult is the full directory scan's outcome.
type LoadResult struct {
	Workflows []LoadedWorkflow
	Errors    []LoadError
}

// workflowGlobs are the recursive glob patterns names:
// .yaml|.yml|.json files anywhere under the root.
var workflowGlobs = []string{"**/*.yaml", "**/*.yml", "**/*.json"}

// Load discovers every .yaml/.yml/.json file under dir (recursively via
// doublestar, grounded on the teacher's internal/permissions path
// matching use of the same library), parses and validates each, and
// returns the full set of successes and per-file failures.
func Load(dir string) (LoadResult, error) {
	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var result LoadResult

	for _, pattern := range workflowGlobs {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return result, fmt.Errorf("loader: invalid glob pattern %q: %w", pattern, err)
		}
		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true

			full := filepath.Join(dir, rel)
			lw, err := loadFile(full)
			if err != nil {
				result.Errors = append(result.Errors, LoadError{FilePath: full, Err: err})
				continue
			}
			if lw == nil {
				// Not classified as a workflow; silently skipped, matching
				// "keeps unrelated YAML ... out of the workflow set".
				continue
			}
			result.Workflows = append(result.Workflows, *lw)
		}
	}
	return result, nil
}

// loadFile parses and validates a single file. It returns (nil, nil) when
// the file doesn't pass the cheap workflow prefilter (not an error: the
// file simply isn't a workflow).
func loadFile(path string) (*LoadedWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	def, err := parseDefinition(path, data)
	if err != nil || def == nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	return &LoadedWorkflow{Definition: def, FilePath: path, LastModified: info.ModTime()}, nil
}

// parseDefinition parses and validates raw file content already read
// into memory, shared by loadFile (directory discovery) and LoadBytes
// (a single file the caller already has open). It returns (nil, nil)
// when data doesn't pass the cheap workflow prefilter.
func parseDefinition(path string, data []byte) (*runner.WorkflowDefinition, error) {
	doc, err := decodeGenericDoc(data)
	if err != nil {
		return nil, fmt.Errorf("parsing yaml/json: %w", err)
	}
	if doc == nil || !looksLikeWorkflow(doc) {
		return nil, nil
	}

	var raw rawDefinition
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decoding workflow json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decoding workflow yaml: %w", err)
		}
	}

	def := raw.toDefinition()
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	return def, nil
}

// LoadBytes parses and validates a single workflow file the caller has
// already read, without touching the filesystem for discovery. Unlike
// directory discovery, a file that fails the workflow prefilter is
// reported as an error here, since the caller asked for this exact file.
func LoadBytes(path string, data []byte) (*LoadedWorkflow, error) {
	def, err := parseDefinition(path, data)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("%s does not look like a workflow file (missing name/version/steps)", path)
	}
	return &LoadedWorkflow{Definition: def, FilePath: path, LastModified: time.Now()}, nil
}
