// Package stage declares the filesystem tasks that drivers compose: files
// and directories that must exist, symbolic and hard links, copies,
// rendered configuration files and runscripts.
//
// Every primitive returns an engine.Ref. Readiness is checked against the
// filesystem, so re-evaluating a staged graph does no work, and writes go
// through a temp file and a rename in the destination directory.
package stage
