// Package assets provides embedded static assets for the application.
//
// Prompt templates and the fallback prompt catalog are stored as files and
// embedded at compile time so they can be edited without touching Go code.
package assets

import (
	_ "embed"
)

// EnhancerSystemPrompt instructs the Gemini prompt service how to rewrite a
// user idea into a penguin-themed generation prompt and which JSON shape to reply with.
//
//go:embed prompts/enhancer-system.txt
var EnhancerSystemPrompt string

// PenguinCatalog is the default YAML catalog of scenario leads, environments
// and camera styles used by the offline prompt composer.
//
//go:embed catalog/penguin-catalog.yaml
var PenguinCatalog []byte
