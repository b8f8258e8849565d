// Package hooks provides per-pipeline customization points keyed by
// qualified pipeline name. Registration is opt-in; a pipeline with no
// registered hook is valid and runs with generic behaviour only.
package hooks

import (
	"github.com/BCCDC-PHL/auto-flu/pkg/config"
	"github.com/BCCDC-PHL/auto-flu/pkg/discovery"
	"github.com/sirupsen/logrus"
)

// Hook customizes the lifecycle of one pipeline.
type Hook interface {
	// Prepare adjusts the resolved invocation parameters before dispatch.
	// It may mutate params but never the pipeline definition itself.
	Prepare(def *config.PipelineConfig, run *discovery.Run, params map[string]string) error

	// Finalize performs pipeline-specific post-analysis after a
	// successful invocation.
	Finalize(def *config.PipelineConfig, run *discovery.Run) error
}

// Registry maps qualified pipeline names to hooks.
type Registry struct {
	log   logrus.FieldLogger
	hooks map[string]Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:   log.WithField("component", "hooks"),
		hooks: make(map[string]Hook),
	}
}

// DefaultRegistry creates a registry with all built-in hooks registered.
func DefaultRegistry(log logrus.FieldLogger) *Registry {
	r := NewRegistry(log)
	r.Register(fluviewerPipelineName, &fluviewerHook{log: r.log})

	return r
}

// Register adds a hook for a qualified pipeline name, replacing any
// existing registration.
func (r *Registry) Register(qualifiedName string, h Hook) {
	r.hooks[qualifiedName] = h
}

// Lookup returns the hook registered for a qualified pipeline name.
func (r *Registry) Lookup(qualifiedName string) (Hook, bool) {
	h, ok := r.hooks[qualifiedName]

	return h, ok
}

// Prepare runs the registered hook's Prepare step for a pipeline. A missing
// registration is a logged no-op, not an error.
func (r *Registry) Prepare(def *config.PipelineConfig, run *discovery.Run, params map[string]string) error {
	h, ok := r.Lookup(def.Name)
	if !ok {
		r.log.WithFields(logrus.Fields{
			"sequencing_run_id": run.ID,
			"pipeline_name":     def.Name,
		}).Info("No prepare hook registered for pipeline")

		return nil
	}

	return h.Prepare(def, run, params)
}

// Finalize runs the registered hook's Finalize step for a pipeline. A
// missing registration is a logged no-op, not an error.
func (r *Registry) Finalize(def *config.PipelineConfig, run *discovery.Run) error {
	h, ok := r.Lookup(def.Name)
	if !ok {
		r.log.WithFields(logrus.Fields{
			"sequencing_run_id": run.ID,
			"pipeline_name":     def.Name,
		}).Info("No finalize hook registered for pipeline")

		return nil
	}

	return h.Finalize(def, run)
}
