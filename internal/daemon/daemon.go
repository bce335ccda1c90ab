// Package daemon runs the invoq background process: it watches the
// invoice store, keeps the sync queue current, and serves CLI requests
// over a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/mizanhasan/invoq/internal/drain"
	"github.com/mizanhasan/invoq/internal/events"
	"github.com/mizanhasan/invoq/internal/lock"
	"github.com/mizanhasan/invoq/internal/model"
	"github.com/mizanhasan/invoq/internal/notify"
	"github.com/mizanhasan/invoq/internal/queue"
	"github.com/mizanhasan/invoq/internal/remote"
	"github.com/mizanhasan/invoq/internal/store"
	"github.com/mizanhasan/invoq/internal/uds"
	invoqyaml "github.com/mizanhasan/invoq/internal/yaml"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the main invoq daemon process. It is the single owner of the
// queue store; all mutations arrive through its UDS handlers, the
// watcher or the ticker, which serialize on the store's own lock.
type Daemon struct {
	invoqDir string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	repo    *store.FileRepository
	queue   *queue.Store
	drainer *drain.Drainer
	syncer  drain.Syncer
	bus     *events.Bus
	audit   *events.AuditLogger

	// online gates draining; the daemon never detects connectivity
	// itself, the flag is flipped via `invoq online`.
	online atomic.Bool

	// drains collapses concurrent drain requests into one pass.
	drains singleflight.Group

	// Debounce state for store file events.
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a new Daemon instance logging to logs/daemon.log.
func New(invoqDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(invoqDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(invoqDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(invoqDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	scanInterval := cfg.Watcher.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 10
	}

	storePath := cfg.Store.Path
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(invoqDir, storePath)
	}

	logger := log.New(w, "", 0)
	d := &Daemon{
		invoqDir: invoqDir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(invoqDir, "locks", "daemon.lock")),
		server:   uds.NewServer(filepath.Join(invoqDir, uds.DefaultSocketName)),
		ticker:   time.NewTicker(time.Duration(scanInterval) * time.Second),
		repo:     store.NewFileRepository(storePath),
		queue:    queue.NewStore(),
		drainer:  drain.New(logger),
		bus:      events.NewBus(0),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.server.SetLogger(logger)
	d.syncer = remote.NewHTTPSyncer(cfg.Remote.Endpoint, time.Duration(cfg.Remote.SyncTimeoutSec)*time.Second)
	d.online.Store(cfg.Daemon.StartOnline)

	return d, nil
}

// SetSyncer overrides the remote syncer for testing.
func (d *Daemon) SetSyncer(s drain.Syncer) {
	d.syncer = s
}

// Bus returns the daemon's event bus.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Wire the audit log onto the event bus
	audit, err := events.NewAuditLogger(filepath.Join(d.invoqDir, "logs", "audit.jsonl"), 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	for _, typ := range []events.EventType{
		events.EventEntrySynced,
		events.EventEntrySyncFailed,
		events.EventDrainCompleted,
	} {
		d.bus.Subscribe(typ, audit.LogEvent)
	}
	if d.config.Daemon.Notify {
		d.bus.Subscribe(events.EventDrainCompleted, d.notifyDrainCompleted)
	}

	// Step 3: Init fsnotify watcher on the store directory
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	storeDir := filepath.Dir(d.repo.Path())
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure dir %s: %w", storeDir, err)
	}
	if err := watcher.Add(storeDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", storeDir, err)
	}

	// Step 4: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.invoqDir, uds.DefaultSocketName))

	// Step 5: Start background loops
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Step 6: Initial recompute, recovering a corrupt store first
	d.recoverStore()
	d.recompute()
	d.log(LogLevelInfo, "daemon ready online=%v", d.online.Load())

	// Step 7: Wait for signals
	d.waitSignals()

	return nil
}

// recoverStore puts the store file back into a loadable state at
// startup. A corrupt file is quarantined and replaced by its backup, or
// by an empty skeleton when the backup is unusable too.
func (d *Daemon) recoverStore() {
	_, err := d.repo.List()
	if err == nil {
		return
	}

	if errors.Is(err, os.ErrNotExist) {
		d.log(LogLevelWarn, "store_missing path=%s, writing skeleton", d.repo.Path())
		if werr := invoqyaml.GenerateSkeleton(d.repo.Path(), invoqyaml.FileTypeInvoiceStore); werr != nil {
			d.log(LogLevelError, "store_skeleton_failed error=%v", werr)
		}
		return
	}

	d.log(LogLevelWarn, "store_corrupt path=%s error=%v", d.repo.Path(), err)
	if rerr := invoqyaml.RecoverCorruptedFile(d.invoqDir, d.repo.Path(), invoqyaml.FileTypeInvoiceStore); rerr != nil {
		d.log(LogLevelError, "store_recovery_failed error=%v", rerr)
	}
}

// recompute rebuilds the queue from the current store content.
// Any manual reordering is discarded; recompute always resets to
// computed order.
func (d *Daemon) recompute() {
	invoices, err := d.repo.ListUnsynced()
	if err != nil {
		d.log(LogLevelError, "recompute_load_failed error=%v", err)
		return
	}

	diags, err := d.queue.Recompute(invoices, time.Now())
	if err != nil {
		// A running drain owns the queue; the next scan catches up.
		d.log(LogLevelDebug, "recompute_skipped reason=%v", err)
		return
	}

	for _, diag := range diags {
		d.log(LogLevelWarn, "recompute_amount_unparsable invoice=%s error=%v", diag.InvoiceID, diag.Err)
	}

	d.log(LogLevelInfo, "recompute_done entries=%d diagnostics=%d", d.queue.Len(), len(diags))
	d.bus.Publish(events.EventQueueRecomputed, map[string]interface{}{
		"entries":     d.queue.Len(),
		"diagnostics": len(diags),
	})
}

// handleStoreEvent debounces store file changes before recomputing.
func (d *Daemon) handleStoreEvent(filePath string) {
	if filepath.Base(filePath) != filepath.Base(d.repo.Path()) {
		return
	}

	debounceSec := d.config.Watcher.DebounceSec
	if debounceSec <= 0 {
		debounceSec = 0.5
	}

	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}

	d.debounceTimer = time.AfterFunc(
		time.Duration(debounceSec*float64(time.Second)),
		func() {
			d.log(LogLevelDebug, "debounced_recompute trigger=%s", filepath.Base(filePath))
			d.recompute()
		},
	)
}

// runDrain executes one drain pass. Concurrent requests collapse into
// the running pass via singleflight and all receive the same report.
func (d *Daemon) runDrain() (model.DrainReport, error) {
	v, err, _ := d.drains.Do("drain", func() (interface{}, error) {
		report, err := d.drainer.Drain(d.ctx, d.queue, d.syncer, d.repo)

		for _, id := range report.Succeeded {
			d.bus.Publish(events.EventEntrySynced, map[string]interface{}{
				"invoice_id": id,
				"drain_id":   report.ID,
			})
		}
		for _, f := range report.Failed {
			d.bus.Publish(events.EventEntrySyncFailed, map[string]interface{}{
				"invoice_id": f.InvoiceID,
				"attempt_id": f.AttemptID,
				"drain_id":   report.ID,
				"error":      f.Err,
			})
		}
		d.bus.Publish(events.EventDrainCompleted, map[string]interface{}{
			"drain_id":  report.ID,
			"succeeded": len(report.Succeeded),
			"failed":    len(report.Failed),
			"cancelled": report.Cancelled,
		})

		return report, err
	})

	report, _ := v.(model.DrainReport)
	return report, err
}

func (d *Daemon) notifyDrainCompleted(e events.Event) {
	succeeded, _ := e.Data["succeeded"].(int)
	failed, _ := e.Data["failed"].(int)
	msg := fmt.Sprintf("%d synced, %d failed", succeeded, failed)
	if err := notify.Send("invoq sync", msg); err != nil {
		d.log(LogLevelDebug, "notify_failed error=%v", err)
	}
}

// fsnotifyLoop processes filesystem change events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.handleStoreEvent(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop triggers periodic recomputes at configured intervals.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic recompute triggered")
			d.recompute()
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once). An
// in-flight drain observes the cancelled context between entries and
// returns its partial report.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops accepting new work)
		d.cancel()

		// 2. Stop producers
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		// 3. Drain in-flight with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.invoqDir, uds.DefaultSocketName))
	d.bus.Close()
	if d.audit != nil {
		d.audit.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
