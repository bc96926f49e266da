// Package core runs the individual steps of a pipeline.
//
// A Step names an external program with its arguments and environment. The
// Executor starts it in its own process group and maps its exit status; the
// Runner adds output capture and, for steps that declare a watch directory, a
// checkpoint watcher that lives as long as the process.
package core
