/*
Package domain contains the core models shared by every stage of an exploration run.

It is kept pure and free of I/O: devices, classifiers and stores live behind the
interfaces in package ports.

# Key Entities

  - PTG: the Page Transition Graph, an arena of PageNodes addressed by index.
  - Edge: an action observed on a page; its Target is an index handle into the arena.
  - ExplorationPath: the explicit stack of (page, edge) steps from the launch page.
  - FDG: the Functional Dependency Graph of FunctionalUnits distilled from a PTG.
  - Snapshot: one captured screen with its fingerprints.
  - DiagnosticTask / BugVerdict: before/after comparisons handed to the bug detector.
*/
package domain
