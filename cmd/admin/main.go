package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  state     print /admin/v1/state (-snapshot for the full engine state)
  snapshot  ask the server to write a snapshot now
  control   send a control command: start, pause, step, reset,
            set_shuffle -on, randomize_mixed -fraction F, set_rate -rate N`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "state":
		stateCmd(os.Args[2:])
	case "snapshot":
		snapshotCmd(os.Args[2:])
	case "control":
		controlCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}
