// waldump is a developer aid, not part of the WAL core's contract: it
// opens a WAL directory, runs recovery, and prints the recovered anchor
// plus a count of the records a fresh scan finds. The directory is not
// opened read-only: recovery may truncate a torn tail, reformat a torn
// header, or bootstrap an empty directory.
//
// Modeled on the reference centauriDB's main.go, which constructs its
// top-level application object and calls a single method on it.
package main

import (
	"flag"
	stdlog "log"

	"github.com/opencoff/go-logger"

	"waldb/wal"
	"waldb/walrec"
)

func main() {
	dir := flag.String("dir", "", "WAL directory to inspect")
	flag.Parse()

	if *dir == "" {
		stdlog.Fatal("waldump: -dir is required")
	}

	lg, err := logger.NewLogger("STDERR", logger.LOG_INFO, "waldump", 0)
	if err != nil {
		stdlog.Fatalf("waldump: creating logger: %v", err)
	}

	mgr, err := wal.New(wal.Options{Dir: *dir, Log: lg})
	if err != nil {
		lg.Fatal("recovery failed: %v", err)
	}

	anchor := mgr.MinLogAnchor()
	lg.Info("recovered minimum-needed anchor: %v", anchor)
	lg.Info("current log file: %d", mgr.CurrentLogFileNumber())

	scanner := mgr.NewScanner(anchor)
	defer scanner.Close()

	var rec walrec.UserLogRecord
	count := 0
	for {
		ok, err := scanner.Next(&rec)
		if err != nil {
			lg.Error("scan stopped at an invalid record: %v", err)
			break
		}
		if !ok {
			break
		}
		count++
	}
	lg.Info("scanned %d record(s) to end of log", count)
}
