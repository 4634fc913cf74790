/*
Package runner implements the read-eval-print loop of the Basthon kernel.

It acts as the bridge between the kernel and a user at a terminal or a
program on a pipe. Cells are read through pluggable handlers, evaluated in the
kernel, and every event they cause is written back through the same handler.

# Key Components

  - Runner: reads cells and evaluates them until the input ends.
  - IOHandler: decouples how cells are read and events are presented.
  - TextHandler: interactive terminal usage, with markdown rendering.
  - JSONHandler: JSON lines for programmatic hosts.

# Usage

	r := runner.NewRunner(
		runner.WithKernel(k),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package runner
