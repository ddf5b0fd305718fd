package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: taskflow <command> [flags]

commands:
  run       run a workflow definition file
  validate  check a workflow definition file
  graph     draw a workflow as ascii, mermaid, png or svg
  history   list recorded runs or show one run's journal
  schedule  run workflows from a cron job file
  research  run the research pipeline for a question
  secret    store, list or delete vault secrets
  serve     serve the MCP tools over stdio, or the HTTP API with -http
  version   print the version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	c := &cli{cfg: loadConfig(), stdin: os.Stdin, stdout: stdout, stderr: stderr}
	switch args[0] {
	case "run":
		return c.run(ctx, args[1:])
	case "validate":
		return c.validate(args[1:])
	case "graph":
		return c.graph(ctx, args[1:])
	case "history":
		return c.history(ctx, args[1:])
	case "schedule":
		return c.schedule(ctx, args[1:])
	case "research":
		return c.research(ctx, args[1:])
	case "secret":
		return c.secret(ctx, args[1:])
	case "serve":
		return c.serve(ctx, args[1:])
	case "version", "-v", "--version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}
