// Package catalog holds the pipeline definitions a process can run, keyed by
// definition id.
//
// A Catalog is filled from a config.Loader. Every definition is validated
// with dag.Build before it is admitted, and a reload replaces the whole set
// atomically: either every file of the new generation is valid and becomes
// visible, or the previous generation stays in place.
//
//	 .hcl files ──► config.Loader ──► dag.Build (each) ──► Catalog
//	      ▲                                                   │
//	      └──────────── fsnotify (Watch, debounced) ◄─────────┘
//
// Runs already in flight keep the *config.Definition they were submitted
// with, so a reload never changes a running pipeline.
package catalog
