package research

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a request before it reaches the pipeline or
	// the store.
	ErrValidation = errors.New("invalid request")
	// ErrNoContent means web extraction produced no usable text.
	ErrNoContent = errors.New("no content found")
	// ErrParse means the model reply did not match the verdict schema.
	ErrParse = errors.New("parse failure")
	// ErrPersistence is the only fatal pipeline error.
	ErrPersistence = errors.New("persistence failure")
)

// Stage names used in research_errors, research_metadata.stages and metrics.
const (
	stageDedup       = "dedup"
	stageProfile     = "profile"
	stageWeb         = "web_extraction"
	stageLLM         = "llm_research"
	stageEnhancement = "enhancement"
	stageResources   = "resource_analysis"
)

// stageError formats a research_errors entry.
func stageError(stage string, err error) string {
	return fmt.Sprintf("%s: %v", stage, err)
}
