// Package workflow defines the behavioral modes a conversation can run
// in and the state machine that moves sessions between them. Workflow
// names are opaque tokens; the YAML catalog declares the valid set,
// each mode's entry action, and its authentication requirements.
package workflow
