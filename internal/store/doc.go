// Package store defines the persistence contracts of the analysis engine:
// the durable JobStore with its atomic claim, the ArtifactStore the engine
// writes analysis status onto, and the error values shared by every backend.
package store
