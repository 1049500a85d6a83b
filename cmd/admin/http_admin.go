package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"trustcollapse.dev/internal/observerproto"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	full := fs.Bool("snapshot", false, "include the full engine state")
	_ = fs.Parse(args)

	u := adminURL(*baseURL, "state")
	if *full {
		u += "?snapshot=1"
	}
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	os.Exit(do(req, 5*time.Second))
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, "snapshot"), nil)
	os.Exit(do(req, 10*time.Second))
}

func controlCmd(args []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		usage()
		os.Exit(2)
	}
	cmd := args[0]

	fs := flag.NewFlagSet("control "+cmd, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	on := fs.Bool("on", false, "set_shuffle: enable shuffling")
	fraction := fs.Float64("fraction", 0.5, "randomize_mixed: probability of a good trust value")
	rate := fs.Int("rate", 0, "set_rate: ticks per second")
	_ = fs.Parse(args[1:])

	msg := observerproto.ControlMsg{
		Type:            observerproto.TypeControl,
		ProtocolVersion: observerproto.Version,
		Cmd:             cmd,
	}
	switch cmd {
	case "set_shuffle":
		msg.On = on
	case "randomize_mixed":
		msg.Fraction = fraction
	case "set_rate":
		msg.Rate = *rate
	}
	body, err := json.Marshal(msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, "control"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	os.Exit(do(req, 10*time.Second))
}

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1/" + path
}

// do prints the response body and returns the process exit code.
func do(req *http.Request, timeout time.Duration) int {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
