// Package config defines the format-agnostic pipeline model: definitions,
// stages, typed parameters and the trigger context runs are evaluated against,
// along with the Loader interface concrete formats implement.
//
// The `config.Definition` is the single source of truth for the `dag`,
// `params` and `scheduler` packages. A Definition is immutable once loaded
// and may be shared freely between runs. Concrete loaders, such as the HCL
// one, live in separate packages and never leak their syntax into the core.
package config
