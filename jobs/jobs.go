// Package jobs tracks the CI jobs triggered through the gateway.
package jobs

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"go.yaml.in/yaml/v3"
)

const StatusPending = "pending"

var ErrNotFound = errors.New("job not found")

type Job struct {
	Status  string `json:"status"`
	Conf    any    `json:"conf"`
	Comment string `json:"comment,omitempty"`
}

type Table struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewTable() *Table {
	return &Table{jobs: make(map[string]Job)}
}

// ParseConf decodes a zuul.yaml document. JSON documents are accepted too.
func ParseConf(data []byte) (any, error) {
	var conf any
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("parse zuul.yaml: %w", err)
	}
	return normalize(conf), nil
}

// normalize turns the map[any]any yaml produces for non-string keys into
// map[string]any so the conf can be rendered as JSON.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			v[k] = normalize(child)
		}
		return v
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, child := range v {
			m[fmt.Sprint(k)] = normalize(child)
		}
		return m
	case []any:
		for i, child := range v {
			v[i] = normalize(child)
		}
		return v
	default:
		return v
	}
}

// Create registers name as a pending job, replacing any previous job.
func (t *Table) Create(name string, conf any) Job {
	job := Job{Status: StatusPending, Conf: conf}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[name] = job
	return job
}

// Restore puts back a job saved with Get, or removes name if there was none.
func (t *Table) Restore(name string, job Job, existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existed {
		t.jobs[name] = job
		return
	}
	delete(t.jobs, name)
}

func (t *Table) Get(name string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[name]
	return job, ok
}

// List returns a snapshot of every job.
func (t *Table) List() map[string]Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.jobs)
}

func (t *Table) Delete(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(t.jobs, name)
	return nil
}

func (t *Table) SetStatus(name, status string) error {
	return t.update(name, func(job *Job) { job.Status = status })
}

func (t *Table) SetComment(name, comment string) error {
	return t.update(name, func(job *Job) { job.Comment = comment })
}

func (t *Table) update(name string, fn func(*Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	fn(&job)
	t.jobs[name] = job
	return nil
}
