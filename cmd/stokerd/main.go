// Command stokerd orchestrates one ephemeral worker slot: it provisions a
// VM when work is queued, bootstraps it, drives work cycles over SSH, and
// guarantees the VM is destroyed when idle, expired, or failed.
package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes form the operator contract.
const (
	exitOK             = 0
	exitRetryExhausted = 1
	exitPermanent      = 2
	exitCancelled      = 3
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitPermanent
	}
	switch args[1] {
	case "run":
		return runDaemon(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "destroy":
		return runDestroy(args[2:], stdout, stderr)
	case "pause":
		return runPause(args[2:], stdout, stderr, true)
	case "resume":
		return runPause(args[2:], stdout, stderr, false)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitPermanent
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: stokerd <command>

Commands:
  run       Run the lifecycle orchestrator for this slot
  status    Print the slot's worker record
  destroy   Request destruction of the slot's worker (--now to bypass the daemon)
  pause     Stop provisioning new workers (active worker keeps its policies)
  resume    Allow provisioning again
  help      Show this help

Configuration is read from STOKER_* environment variables; the worker spec
comes from the YAML file named by STOKER_WORKER_SPEC.

Exit codes: 0 ok, 1 transient retries exhausted, 2 permanent or
configuration error, 3 operator cancelled.`)
}
