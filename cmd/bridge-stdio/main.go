// Command bridge-stdio runs the stdio tool-call transport: one
// newline-delimited JSON request per line on stdin, one JSON response
// line per request on stdout, driving the same internal/core.Engine used
// by the HTTP transport. No auth, no streaming: this transport is
// local-process-trust only.
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(cliMain(os.Stdin, os.Stdout, os.Stderr))
}

// cliMain is a testable entrypoint mirroring the teacher's
// cliMain(args, stdout, stderr) int shape, adapted to this transport's
// stream-of-requests model instead of a single flag-parsed invocation.
func cliMain(stdin io.Reader, stdout, stderr io.Writer) int {
	engine, cleanup, err := buildEngine()
	if err != nil {
		safeFprintln(stderr, "failed to initialize engine: "+err.Error())
		return 1
	}
	defer cleanup()

	return runLoop(stdin, stdout, stderr, engine)
}

func safeFprintln(w io.Writer, msg string) {
	_, _ = w.Write([]byte(msg + "\n"))
}
