package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	_ "time/tzdata"

	"github.com/truefoundry/capacity-scheduler/internal/app"
)

func main() {
	subCommands := map[string]func(){
		"pass":  app.PassMain,
		"serve": app.ServeMain,
	}

	subCommandNames := slices.Sorted(maps.Keys(subCommands))

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Please provide one of subcommands: %v\n", subCommandNames)
		os.Exit(1)
	}

	subcommand := os.Args[1]
	os.Args = slices.Delete(os.Args, 1, 2)

	run, ok := subCommands[subcommand]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %v\n", subcommand)
		fmt.Fprintf(os.Stderr, "Available subcommands: %v\n", subCommandNames)
		os.Exit(1)
	}
	run()
}
