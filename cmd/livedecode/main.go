// Command livedecode runs the streaming decoder.
//
// Usage:
//
//	livedecode [flags] <command> [args]
//
// Commands:
//
//	decode   - Decode WAV files
//	serve    - Serve websocket streaming sessions
//	results  - Show stored utterance results
//	version  - Print version information
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
