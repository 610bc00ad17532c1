package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"

	"lsmkv/internal/archive"
	"lsmkv/internal/common"
	"lsmkv/internal/db"
	"lsmkv/internal/metrics"
)

var commands = []string{
	"put", "get", "delete", "scan", "dump", "flush", "compact", "stats",
	"seed", "export", "import", "inspect", "history", "exit",
}

func main() {
	dir := flag.String("dir", "data", "store directory")
	flushThreshold := flag.Int64("flush-threshold", db.DefaultOptions.MemtableFlushThreshold,
		"memtable size in bytes that triggers a flush (0 disables)")
	ioLimit := flag.Int64("compaction-io-limit", 0, "compaction write limit in bytes/s (0 is unlimited)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :2112)")
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	basic := &metrics.Basic{}
	collector, err := newCollector(basic, *metricsAddr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
		os.Exit(2)
	}

	engine, err := db.Open(*dir,
		db.WithLogger(logger),
		db.WithMetrics(collector),
		db.WithMemtableFlushThreshold(*flushThreshold),
		db.WithCompactionIOLimit(*ioLimit),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	hist := &history{}
	if home, err := os.UserHomeDir(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
	} else if loaded, err := loadHistory(home, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
	} else {
		hist = loaded
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, strings.ToLower(l)) {
				out = append(out, c)
			}
		}
		return out
	})
	hist.feed(line)

	fmt.Println("lsmkv - log-structured key-value store")
	fmt.Printf("config: dir=%s flush_threshold=%d\n", *dir, *flushThreshold)
	fmt.Println("commands: " + strings.Join(commands, " | "))

	seedIndex := loadSeedIndex(engine)
	r := &repl{engine: engine, logger: logger, metrics: basic, history: hist, seedIndex: seedIndex}
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "input error: %v\n", err)
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if hist.add(input) {
			line.AppendHistory(input)
		}

		if !r.run(strings.Fields(input)) {
			break
		}
	}

	if err := hist.save(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save history: %v\n", err)
	}
}

func newLogger(level, format string) (*common.Logger, error) {
	lvl, err := common.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case "text":
		return common.NewTextLogger(os.Stderr, lvl), nil
	case "json":
		return common.NewJSONLogger(os.Stderr, lvl), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// newCollector always records into basic for the stats command. With addr
// set it also exports to Prometheus over HTTP.
func newCollector(basic *metrics.Basic, addr string, logger *common.Logger) (metrics.Collector, error) {
	if addr == "" {
		return basic, nil
	}
	reg := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheus(reg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr, "path", "/metrics")
	return metrics.Multi{basic, prom}, nil
}

type repl struct {
	engine    *db.DB
	logger    *common.Logger
	metrics   *metrics.Basic
	history   *history
	seedIndex int
}

// run executes one command and reports whether the loop should continue.
func (r *repl) run(parts []string) bool {
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "put":
		if len(args) != 2 {
			fmt.Println("usage: put <key> <value>")
			return true
		}
		if err := r.engine.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fmt.Printf("put error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "get":
		if len(args) != 1 {
			fmt.Println("usage: get <key>")
			return true
		}
		entry, err := r.engine.Get([]byte(args[0]))
		if errors.Is(err, db.ErrNotFound) {
			fmt.Println("(not found)")
			return true
		}
		if err != nil {
			fmt.Printf("get error: %v\n", err)
			return true
		}
		fmt.Println(string(entry.Value))
	case "delete":
		if len(args) != 1 {
			fmt.Println("usage: delete <key>")
			return true
		}
		if err := r.engine.Delete([]byte(args[0])); err != nil {
			fmt.Printf("delete error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "scan", "dump":
		if len(args) > 2 {
			fmt.Printf("usage: %s [from] [to]\n", cmd)
			return true
		}
		from, to := rangeBounds(args)
		dumpRange(r.engine, from, to, cmd == "dump")
	case "flush":
		if err := r.engine.Flush(); err != nil {
			fmt.Printf("flush error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "compact":
		if err := r.engine.Compact(); err != nil {
			fmt.Printf("compact error: %v\n", err)
			return true
		}
		fmt.Println("ok")
	case "stats":
		printStats(r.engine.Stats())
		printMetrics(r.metrics.GetStats())
	case "seed":
		if len(args) != 1 {
			fmt.Println("usage: seed <x>")
			return true
		}
		x, err := strconv.Atoi(args[0])
		if err != nil || x < 1 {
			fmt.Println("seed: x must be a positive integer")
			return true
		}
		seed(r.engine, r.logger, x, &r.seedIndex)
	case "export":
		if len(args) < 1 || len(args) > 2 {
			fmt.Println("usage: export <file> [zstd|lz4|none]")
			return true
		}
		var name string
		if len(args) == 2 {
			name = args[1]
		}
		exportTo(r.engine, args[0], name)
	case "import":
		if len(args) != 1 {
			fmt.Println("usage: import <file>")
			return true
		}
		importFrom(r.engine, args[0])
	case "inspect":
		if len(args) != 1 {
			fmt.Println("usage: inspect <generation>")
			return true
		}
		gen, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("inspect: invalid generation %q\n", args[0])
			return true
		}
		inspectGeneration(r.engine.Dir(), common.Generation(gen))
	case "history":
		n := 0
		if len(args) == 1 {
			n, _ = strconv.Atoi(args[0])
		}
		for i, c := range r.history.list(n) {
			fmt.Printf("%4d  %s\n", i+1, c)
		}
	case "exit", "quit":
		return false
	default:
		fmt.Println("unknown command")
	}
	return true
}

func rangeBounds(args []string) (from, to []byte) {
	if len(args) > 0 && args[0] != "-" {
		from = []byte(args[0])
	}
	if len(args) > 1 && args[1] != "-" {
		to = []byte(args[1])
	}
	return from, to
}

func printStats(s db.Stats) {
	fmt.Printf("memtable: %d entries, ~%d bytes\n", s.MemtableEntries, s.MemtableBytes)
	if s.FlushingEntries > 0 {
		fmt.Printf("flushing: %d entries\n", s.FlushingEntries)
	}
	fmt.Printf("segments: %d, %d bytes, last generation %d\n", len(s.Segments), s.SegmentBytes, s.LastGeneration)
	for _, seg := range s.Segments {
		kind := "flushed"
		if seg.Compacted {
			kind = "compacted"
		}
		fmt.Printf("  gen %-6d %-9s %8d entries %10d bytes\n", seg.Generation, kind, seg.Entries, seg.Bytes)
	}

	m := s.Maintenance
	limit := "unlimited"
	if m.CompactionIOLimit > 0 {
		limit = fmt.Sprintf("%d B/s", m.CompactionIOLimit)
	}
	fmt.Printf("maintenance: %d running, compaction io %d bytes (limit %s)\n", m.Running, m.CompactionIOBytes, limit)
	if m.Halted != nil {
		fmt.Printf("compaction halted: %v (reopen to recover)\n", m.Halted)
	}
}

func printMetrics(m metrics.BasicStats) {
	fmt.Printf("gets: %d (%d hits, %d errors, avg %s)\n",
		m.GetCount, m.GetHits, m.GetErrors, time.Duration(m.GetAvgNanos))
	fmt.Printf("writes: %d (%d deletes, %d errors, avg %s)\n",
		m.WriteCount, m.DeleteCount, m.WriteErrors, time.Duration(m.WriteAvgNanos))
	fmt.Printf("flushes: %d (%d errors, %d entries, %d bytes)\n",
		m.FlushCount, m.FlushErrors, m.FlushedEntries, m.FlushedBytes)
	fmt.Printf("compactions: %d (%d errors, %d bytes)\n",
		m.CompactionCount, m.CompactionErrors, m.CompactedBytes)
}

func exportTo(engine *db.DB, path, compression string) {
	c, err := archive.ParseCompression(compression)
	if err != nil {
		fmt.Printf("export error: %v\n", err)
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("export error: %v\n", err)
		return
	}
	n, err := engine.Export(f, c)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Printf("export error: %v\n", err)
		return
	}
	fmt.Printf("exported %d entries to %s (%s)\n", n, path, c)
}

func importFrom(engine *db.DB, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("import error: %v\n", err)
		return
	}
	defer f.Close()

	n, err := engine.Import(f)
	if err != nil {
		fmt.Printf("import error after %d entries: %v\n", n, err)
		return
	}
	fmt.Printf("imported %d entries from %s\n", n, path)
}
