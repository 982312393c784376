// Package source supplies rule definitions to the registry.
//
// Three sources ship: FileSource reads YAML rule files from a file or
// directory and can watch them for changes, GitSource keeps a local clone
// of a rule repository in sync with its remote, and MemorySource serves a
// fixed definition list for tests and embedding.
package source
