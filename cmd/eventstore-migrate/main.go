package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cuemby/eventstore/pkg/index"
	"github.com/cuemby/eventstore/pkg/txlog"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/rs/zerolog"
)

var (
	dataDir = flag.String("data-dir", "/var/lib/eventstore", "Node data directory")
	dryRun  = flag.Bool("dry-run", false, "Show what would be done without writing anything")
	mode    = flag.String("mode", "rebuild-index", "rebuild-index | scavenge")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Event Store Offline Maintenance Tool")
	log.Println("====================================")
	log.Printf("Data directory: %s", *dataDir)
	log.Printf("Mode: %s", *mode)
	log.Printf("Dry run: %v", *dryRun)

	logDir := filepath.Join(*dataDir, "log")
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		log.Fatalf("Log directory not found at %s", logDir)
	}

	nop := zerolog.Nop()
	txLog, err := txlog.Open(txlog.Config{Dir: logDir}, nop)
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer txLog.Close()

	switch *mode {
	case "rebuild-index":
		if err := rebuildIndex(txLog, *dataDir, *dryRun); err != nil {
			log.Fatalf("Rebuild failed: %v", err)
		}
	case "scavenge":
		if err := scavenge(txLog, *dryRun); err != nil {
			log.Fatalf("Scavenge failed: %v", err)
		}
	default:
		log.Fatalf("Unknown mode: %s", *mode)
	}

	log.Println("✓ Done")
}

// rebuildIndex replays every prepare record in the log, in physical
// order, into a fresh index directory. The live index is never touched;
// operators swap the rebuilt directory in only after verifying it.
func rebuildIndex(txLog *txlog.Log, dataDir string, dryRun bool) error {
	rebuildDir := filepath.Join(dataDir, "index-rebuild")

	if dryRun {
		records, err := txLog.ScanForward(types.ZeroPosition)
		if err != nil {
			return fmt.Errorf("scan log: %w", err)
		}
		log.Printf("[DRY RUN] Would replay %d records into %s", len(records), rebuildDir)
		return nil
	}

	if err := os.RemoveAll(rebuildDir); err != nil {
		return fmt.Errorf("clear rebuild dir: %w", err)
	}

	// A self-referential resolver over txLog: the rebuilt index looks up
	// stream ids from the same log it is replaying, never from itself.
	idx, err := index.Open(index.Config{DataDir: rebuildDir}, logResolver{txLog}, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("open rebuild index: %w", err)
	}
	defer idx.Close()

	records, err := txLog.ScanForward(types.ZeroPosition)
	if err != nil {
		return fmt.Errorf("scan log: %w", err)
	}

	var replayed int
	for _, rec := range records {
		kind, err := txlog.PeekType(rec.Payload)
		if err != nil || kind != txlog.RecordPrepare {
			continue
		}
		prep, err := txlog.DecodePrepare(rec.Payload)
		if err != nil {
			log.Printf("⚠ Skipping unreadable record at %+v: %v", rec.Position, err)
			continue
		}
		idx.Insert(prep.StreamID, prep.EventNumber, rec.Position)
		replayed++
		if replayed%10000 == 0 {
			log.Printf("  replayed %d records...", replayed)
		}
	}

	log.Printf("✓ Replayed %d records into %s", replayed, rebuildDir)
	log.Printf("Swap it into place once verified: mv %s %s", rebuildDir, filepath.Join(dataDir, "index"))
	return nil
}

// scavenge reports every chunk's number, logical range, physical size
// and completion state, plus the chunk count and total size. It does
// not look at stream deletions and rewrites no chunk.
func scavenge(txLog *txlog.Log, dryRun bool) error {
	chunks := txLog.Stat()
	var totalBytes uint64
	for _, ch := range chunks {
		totalBytes += ch.PhysicalSize
		log.Printf("chunk %d: logical=[%d,%d) physical=%d bytes complete=%v",
			ch.Number, ch.LogicalStart, ch.LogicalEnd, ch.PhysicalSize, ch.Complete)
	}
	log.Printf("%d chunks, %d bytes total", len(chunks), totalBytes)
	if dryRun {
		log.Println("[DRY RUN] No chunks rewritten")
	}
	return nil
}

type logResolver struct {
	log *txlog.Log
}

func (r logResolver) StreamIDAt(pos types.LogPosition) (string, error) {
	payload, err := r.log.Read(pos)
	if err != nil {
		return "", err
	}
	prep, err := txlog.DecodePrepare(payload)
	if err != nil {
		return "", err
	}
	return prep.StreamID, nil
}
