// Package status implements the `invoq status` read-only surface. It
// combines a daemon liveness probe over UDS with stats read directly
// from the store file, so it degrades gracefully when the daemon is
// down.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/setup"
	"github.com/mizanhasan/invoq/internal/store"
	"github.com/mizanhasan/invoq/internal/uds"
)

type Report struct {
	Daemon DaemonStatus       `json:"daemon"`
	Store  *model.StoreStats  `json:"store,omitempty"`
	Queue  []model.QueueEntry `json:"queue,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
	Online  bool `json:"online,omitempty"`
}

// Run collects the project status and prints it to stdout.
func Run(invoqDir string, jsonOutput bool) error {
	report := Collect(invoqDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(os.Stdout, report)
	return nil
}

// Collect gathers daemon, store and queue state. Probe failures are
// reported as absent sections, not errors.
func Collect(invoqDir string) Report {
	sockPath := filepath.Join(invoqDir, uds.DefaultSocketName)

	report := Report{Daemon: checkDaemon(sockPath)}
	if report.Daemon.Running {
		report.Queue = fetchQueue(sockPath)
	}
	report.Store = storeStats(invoqDir)
	return report
}

func checkDaemon(sockPath string) DaemonStatus {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("ping", nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}

	var ping struct {
		PID    int  `json:"pid"`
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(resp.Data, &ping); err != nil {
		return DaemonStatus{Running: true}
	}
	return DaemonStatus{Running: true, PID: ping.PID, Online: ping.Online}
}

func fetchQueue(sockPath string) []model.QueueEntry {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("queue_list", nil)
	if err != nil || !resp.Success {
		return nil
	}

	var list struct {
		Entries []model.QueueEntry `json:"entries"`
	}
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil
	}
	return list.Entries
}

func storeStats(invoqDir string) *model.StoreStats {
	cfg, err := setup.LoadConfig(invoqDir)
	if err != nil {
		return nil
	}

	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(invoqDir, storePath)
	}

	stats, err := store.NewFileRepository(storePath).Stats()
	if err != nil {
		return nil
	}
	return &stats
}

func printReport(w io.Writer, r Report) {
	if r.Daemon.Running {
		mode := "offline"
		if r.Daemon.Online {
			mode = "online"
		}
		fmt.Fprintf(w, "Daemon: running (pid %d, %s)\n", r.Daemon.PID, mode)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}

	if r.Store != nil {
		fmt.Fprintf(w, "Store:  %d invoices (%d pending, %d review, %d synced, avg confidence %d%%)\n",
			r.Store.Total, r.Store.Pending, r.Store.Review, r.Store.Synced, r.Store.AvgConfidence)
	} else {
		fmt.Fprintln(w, "Store:  unreadable")
	}

	if !r.Daemon.Running {
		return
	}
	if len(r.Queue) == 0 {
		fmt.Fprintln(w, "\nQueue: empty")
		return
	}

	fmt.Fprintln(w, "\nQueue:")
	fmt.Fprintf(w, "  %3s  %-12s  %5s  %-10s  %s\n", "#", "INVOICE", "SCORE", "AGE", "REASON")
	for i, e := range r.Queue {
		fmt.Fprintf(w, "  %3d  %-12s  %5d  %-10s  %s\n",
			i+1, e.InvoiceID, e.Score.Value, e.Score.AgeLabel, e.Score.Reason)
	}
}
