/*
Package droidscout explores a mobile application automatically and models what it finds.

The engine drives a device through the application under test, one gesture at a
time. Every distinct screen becomes a page of the Page Transition Graph (PTG) and
every widget a vision-language classifier finds on it becomes an edge. Once the
traversal is over, the PTG is distilled into a Functional Dependency Graph (FDG):
units of user-facing functionality linked by the data they produce and consume.

# Architecture

The Engine is a thin facade over the internal packages:

  - runtime: depth-first traversal with backtracking and recovery.
  - equivalence: decides whether a capture is a page already in the graph.
  - widgets: extracts actionable widgets off the exploration goroutine.
  - diagnostics: judges every transition for bugs in the background.
  - fdg: builds the Functional Dependency Graph.

Devices, classifiers and stores are ports, so the engine can run against a real
Android device (pkg/adapters/adb) and Gemini (pkg/adapters/gemini), or against
fakes in tests.

# Usage

	device := adb.New("adb", "emulator-5554")
	classifier, err := gemini.New(ctx, os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal(err)
	}

	cfg := droidscout.DefaultConfig()
	cfg.App.Bundle = "com.example.notes"

	engine, err := droidscout.New(device, classifier,
		droidscout.WithConfig(cfg),
		droidscout.WithStore(file.New(".droidscout/runs")),
	)
	if err != nil {
		log.Fatal(err)
	}

	report, err := engine.Explore(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("run %s: %d pages, %d units", report.RunID, report.Graph.Len(), len(report.FDG.Units))
*/
package droidscout
