package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mizanhasan/invoq/internal/daemon"
	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/setup"
	"github.com/mizanhasan/invoq/internal/status"
	"github.com/mizanhasan/invoq/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "online":
		runOnline(os.Args[2:])
	case "version":
		fmt.Printf("invoq %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	projectDir := "."
	projectName := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			projectName = args[i]
		default:
			projectDir = args[i]
		}
	}

	if err := setup.Run(projectDir, projectName); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(projectDir)
	fmt.Printf("Initialized .invoq/ in %s\n", absDir)
}

func runDaemon(_ []string) {
	invoqDir := findInvoqDir()
	if invoqDir == "" {
		fmt.Fprintln(os.Stderr, "error: .invoq/ directory not found. Run 'invoq init' first.")
		os.Exit(1)
	}

	cfg, err := setup.LoadConfig(invoqDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(invoqDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: invoq status [--json]\n", a)
			os.Exit(1)
		}
	}

	invoqDir := mustFindInvoqDir()
	if err := status.Run(invoqDir, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runQueue(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: invoq queue <list|move|remove> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		runQueueList(args[1:])
	case "move":
		runQueueMove(args[1:])
	case "remove":
		runQueueRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown queue subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: invoq queue <list|move|remove> [options]")
		os.Exit(1)
	}
}

func runQueueList(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: invoq queue list [--json]\n", a)
			os.Exit(1)
		}
	}

	resp := mustSend("queue_list", nil)

	var list daemon.QueueListResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(list.Entries)
		return
	}

	if len(list.Entries) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	fmt.Printf("%3s  %-12s  %5s  %-10s  %s\n", "#", "INVOICE", "SCORE", "AGE", "REASON")
	for i, e := range list.Entries {
		fmt.Printf("%3d  %-12s  %5d  %-10s  %s\n",
			i+1, e.InvoiceID, e.Score.Value, e.Score.AgeLabel, e.Score.Reason)
	}
}

func runQueueMove(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: invoq queue move <invoice_id> <position>")
		os.Exit(1)
	}
	// Positions are 1-based on the CLI.
	pos, err := strconv.Atoi(args[1])
	if err != nil || pos < 1 {
		fmt.Fprintf(os.Stderr, "invalid position %q, must be a positive number\n", args[1])
		os.Exit(1)
	}

	mustSend("queue_move", map[string]any{
		"invoice_id": args[0],
		"index":      pos - 1,
	})
	fmt.Printf("Moved %s to position %d\n", args[0], pos)
}

func runQueueRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: invoq queue remove <invoice_id>")
		os.Exit(1)
	}

	mustSend("queue_remove", map[string]any{"invoice_id": args[0]})
	fmt.Printf("Removed %s from the queue\n", args[0])
}

func runSync(_ []string) {
	resp := mustSend("drain", nil)

	var report model.DrainReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		fmt.Fprintf(os.Stderr, "decode report: %v\n", err)
		os.Exit(1)
	}
	printReport(report)
}

func printReport(report model.DrainReport) {
	for _, id := range report.Succeeded {
		fmt.Printf("synced   %s\n", id)
	}
	for _, f := range report.Failed {
		fmt.Printf("failed   %s  %s\n", f.InvoiceID, f.Err)
	}
	fmt.Printf("Done: %d synced, %d failed", len(report.Succeeded), len(report.Failed))
	if report.Cancelled {
		fmt.Print(" (interrupted)")
	}
	fmt.Println()

	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}

func runOnline(args []string) {
	if len(args) == 0 {
		resp := mustSend("online_get", nil)
		printOnline(resp)
		return
	}

	var online bool
	switch args[0] {
	case "on":
		online = true
	case "off":
		online = false
	default:
		fmt.Fprintln(os.Stderr, "usage: invoq online [on|off]")
		os.Exit(1)
	}

	resp := mustSend("online_set", map[string]any{"online": online})
	printOnline(resp)
}

func printOnline(resp *uds.Response) {
	var state daemon.OnlineResponse
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	if state.Online {
		fmt.Println("online")
	} else {
		fmt.Println("offline")
	}
}

// mustSend sends one command to the daemon and exits on any failure.
// A STORAGE_ERROR drain response still carries the partial report, so
// it is printed before exiting.
func mustSend(command string, params any) *uds.Response {
	invoqDir := mustFindInvoqDir()
	client := uds.NewClient(filepath.Join(invoqDir, uds.DefaultSocketName))

	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		if resp.Error.Code == uds.ErrCodeStorage && len(resp.Data) > 0 {
			var report model.DrainReport
			if err := json.Unmarshal(resp.Data, &report); err == nil {
				for _, id := range report.Succeeded {
					fmt.Printf("synced   %s\n", id)
				}
			}
		}
		fmt.Fprintf(os.Stderr, "error [%s]: %s\n", resp.Error.Code, resp.Error.Message)
		os.Exit(1)
	}
	return resp
}

func mustFindInvoqDir() string {
	invoqDir := findInvoqDir()
	if invoqDir == "" {
		fmt.Fprintln(os.Stderr, "error: .invoq/ directory not found. Run 'invoq init' first.")
		os.Exit(1)
	}
	return invoqDir
}

// findInvoqDir walks up from the working directory looking for .invoq/.
func findInvoqDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".invoq")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `invoq %s — Offline-first invoice sync queue

Usage: invoq <command> [options]

Project:
  init [dir] [--name <name>]   Initialize .invoq/ directory
  daemon                       Run daemon process
  status [--json]              Show daemon, store and queue status

Queue:
  queue list [--json]          Show the sync queue in priority order
  queue move <id> <position>   Move an invoice to a queue position
  queue remove <id>            Remove an invoice from the queue

Sync:
  sync                         Drain the queue against the remote endpoint
  online [on|off]              Show or set the connectivity flag

Utilities:
  version                      Show version
  help                         Show this help

`, version)
}
