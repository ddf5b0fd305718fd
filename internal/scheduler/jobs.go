package scheduler

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Job runs a workflow definition file on a cron schedule.
type Job struct {
	ID       string         `yaml:"id" json:"id"`
	Cron     string         `yaml:"cron" json:"cron"`
	Workflow string         `yaml:"workflow" json:"workflow"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Disabled bool           `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// JobFile is the on-disk list of jobs.
//
//	jobs:
//	  - id: nightly-research
//	    cron: "0 2 * * *"
//	    workflow: research.yaml
//	    input: {query: "libsql replication"}
type JobFile struct {
	Jobs []Job `yaml:"jobs"`
}

// LoadJobs reads a job file. Relative workflow paths are resolved against
// the file's directory.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read job file %s", path).WithCause(err)
	}

	var file JobFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse job file %s", path).WithCause(err)
	}

	dir := filepath.Dir(path)
	for i := range file.Jobs {
		job := &file.Jobs[i]
		if job.ID == "" || job.Cron == "" || job.Workflow == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "job %d: id, cron and workflow are required", i)
		}
		if !filepath.IsAbs(job.Workflow) {
			job.Workflow = filepath.Join(dir, job.Workflow)
		}
	}
	return file.Jobs, nil
}
