// cmd/katsu/main.go
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

const version = "0.1.0"

// Katsu has no lexer, parser, compiler, or file loader (spec §1 scopes
// those out) so there is nothing for a driver to load and run from a
// source file. What spec §6 actually asks of "the driver" — load a
// program's Code object and call eval_toplevel on it, printing the result
// or a surfaced condition — is exercised here against the fixed set of
// hand-assembled programs in demos.go, one per spec §8 end-to-end
// scenario.
func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		runAll()
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		showVersion()
	case "list":
		listDemos()
	default:
		runOne(args[0])
	}
}

func colorize(code, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func runAll() {
	failures := 0
	for _, d := range demos {
		if !runDemo(d) {
			failures++
		}
	}
	fmt.Println()
	if failures == 0 {
		fmt.Println(colorize("32", fmt.Sprintf("all %d scenarios passed", len(demos))))
		return
	}
	fmt.Println(colorize("31", fmt.Sprintf("%d of %d scenarios failed", failures, len(demos))))
	os.Exit(1)
}

func runOne(name string) {
	for _, d := range demos {
		if d.name == name {
			if !runDemo(d) {
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "katsu: no such scenario %q (try \"katsu list\")\n", name)
	os.Exit(1)
}

func runDemo(d demo) bool {
	fmt.Printf("%s %s\n", colorize("36", "["+d.name+"]"), d.description)
	rt := newRuntime()
	out, err := d.run(rt)
	if err != nil {
		fmt.Printf("  %s %v\n", colorize("31", "error:"), err)
		return false
	}
	fmt.Printf("  %s %s\n", colorize("32", "=>"), out)
	return true
}

func listDemos() {
	for _, d := range demos {
		fmt.Printf("%-24s %s\n", d.name, d.description)
	}
}

func showUsage() {
	fmt.Println("Katsu - a tagged-value, multimethod-dispatching bytecode VM")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  katsu                 Run every demo scenario (spec §8, end to end)")
	fmt.Println("  katsu list            List the available demo scenarios")
	fmt.Println("  katsu <name>          Run a single named scenario")
	fmt.Println("  katsu version         Print the version")
	fmt.Println("  katsu help            Show this message")
}

func showVersion() {
	fmt.Printf("katsu %s\n", version)
}
