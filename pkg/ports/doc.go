/*
Package ports defines the driven ports (interfaces) of the exploration engine.

These interfaces decouple the traversal and graph-building logic from devices,
model services and storage backends.

# Key Interfaces

  - Device: Performs gestures on the application under test and captures screens.
  - Classifier: Answers structured questions about screens and actions.
  - GraphStore: Persists and loads PTG and FDG documents per run.
  - ArtifactSink: Receives bug bundles written by the diagnostics worker.
  - DistributedLocker: Prevents two runs from driving the same device at once.
*/
package ports
