// Package model holds the data types shared by the execution pipeline.
//
// Lessons, code templates, keyword requirements and every result type live
// here so that the strategy, orchestrator and transport packages agree on one
// shape. All types carry json and yaml tags; lesson documents are decoded with
// LoadLesson.
package model
