package server

import (
	"context"
	"io"
)

// Process is a running server process as seen by the supervisor.
type Process interface {
	// PID returns the operating system process id
	PID() int

	// Stdin is the console input of the process
	Stdin() io.WriteCloser

	// Stdout and Stderr are read until EOF before Wait is called
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its exit code
	Wait() (int, error)

	// Kill forcefully terminates the process and its children
	Kill() error
}

// LaunchSpec describes how to start the server process
type LaunchSpec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
}

// Launcher starts server processes
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
