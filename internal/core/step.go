package core

import (
	"github.com/kballard/go-shellquote"
)

// Step is a single external program invocation.
//
// A step is declarative: nothing about it changes while a pipeline runs.
// Program is started directly (no shell), so Args reach it byte for byte.
type Step struct {
	// Name identifies the step in the pipeline graph, logs and run history.
	Name string `json:"name" yaml:"name"`

	// Program is the executable, resolved through PATH when it has no separator.
	Program string `json:"program" yaml:"program"`

	// Args are passed to Program unchanged.
	Args []string `json:"args" yaml:"args"`

	// Env holds variables added on top of the inherited environment.
	// Declared values win over inherited ones.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Dir is the working directory. Empty means the current directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// WatchDir, when set, is watched for checkpoints while the step runs.
	WatchDir string `json:"watch_dir,omitempty" yaml:"watch_dir,omitempty"`
}

// CommandLine returns the full argv of the step.
func (s Step) CommandLine() []string {
	out := make([]string, 0, len(s.Args)+1)
	out = append(out, s.Program)
	out = append(out, s.Args...)
	return out
}

// String renders the step as a shell-quoted command line.
func (s Step) String() string {
	return shellquote.Join(s.CommandLine()...)
}
