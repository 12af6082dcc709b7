// Package config defines the format-agnostic run configuration, along with
// the Loader interface implemented by format-specific packages such as
// hcl_adapter.
//
// A Model is assembled from configuration files first and command-line
// flags second; Merge applies the second on top of the first.
package config
