// Package scrape defines the domain types shared by the FIS results pipeline:
// athlete descriptors, parsed competition results, run snapshots, and the
// collaborator interfaces (fetchers, sinks, notifiers) the pipeline depends on.
package scrape
