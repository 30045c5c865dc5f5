package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/loadout/internal/adapter/storage"
	"github.com/rl1809/loadout/internal/config"
	"github.com/rl1809/loadout/internal/core/domain"
	"github.com/rl1809/loadout/internal/core/service"
	"github.com/rl1809/loadout/internal/logger"
)

const (
	writerCount     = 8
	readerCount     = 8
	replacesPerUser = 50
	itemsPerWrite   = 3
	maxReported     = 5
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: "warn", Encoding: "console"})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	// Initialize store and service
	store, err := storage.Open(ctx, storage.DBConfig{
		Dialect:         storage.Dialect(cfg.DBDriver),
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to open build store: %v", err)
	}
	defer store.Close()

	buildService := service.NewBuildService(store, zapLogger)

	name := "stress-" + uuid.NewString()[:8]
	buildID, err := buildService.CreateBuild(ctx, domain.BuildFields{Name: name, Type: domain.BuildTypeCustom})
	if err != nil {
		log.Fatalf("failed to create build: %v", err)
	}

	// Counters
	var replaceOK atomic.Int32
	var replaceFailed atomic.Int32
	var reads atomic.Int32
	var violations atomic.Int32

	var reportMu sync.Mutex
	var reported []string

	report := func(msg string) {
		reportMu.Lock()
		defer reportMu.Unlock()
		if len(reported) < maxReported {
			reported = append(reported, msg)
		}
	}

	var writers errgroup.Group
	var readersWG sync.WaitGroup
	writersDone := make(chan struct{})
	start := time.Now()

	for writer := 0; writer < writerCount; writer++ {
		writers.Go(func() error {
			var firstErr error
			for r := 0; r < replacesPerUser; r++ {
				tag := fmt.Sprintf("w%d-r%d", writer, r)
				set := domain.ItemSet{
					"weapon": {{ItemName: tag + "-main"}, {ItemName: tag + "-alt"}},
					"head":   {{ItemName: tag + "-head"}},
				}
				fields := domain.BuildFields{Name: name, Description: tag, Type: domain.BuildTypeCustom}

				if err := buildService.ReplaceBuild(ctx, buildID, fields, set); err != nil {
					replaceFailed.Add(1)
					if firstErr == nil {
						firstErr = fmt.Errorf("replace %s: %w", tag, err)
					}
					continue
				}
				replaceOK.Add(1)
			}
			return firstErr
		})
	}

	for i := 0; i < readerCount; i++ {
		readersWG.Add(1)
		go func() {
			defer readersWG.Done()

			for {
				select {
				case <-writersDone:
					return
				default:
				}

				snapshot, err := buildService.LoadBuild(ctx, buildID)
				if err != nil {
					violations.Add(1)
					report(fmt.Sprintf("load failed: %v", err))
					continue
				}
				reads.Add(1)

				if msg := checkSnapshot(snapshot); msg != "" {
					violations.Add(1)
					report(msg)
				}
			}
		}()
	}

	writerErr := writers.Wait()
	close(writersDone)
	readersWG.Wait()
	elapsed := time.Since(start)

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", cfg.DBDriver)
	fmt.Printf("Build ID:         %d\n", buildID)
	fmt.Printf("Writers/Readers:  %d/%d\n", writerCount, readerCount)
	fmt.Printf("Replaces OK:      %d\n", replaceOK.Load())
	fmt.Printf("Replaces Failed:  %d\n", replaceFailed.Load())
	fmt.Printf("Snapshots Read:   %d\n", reads.Load())
	fmt.Printf("Violations:       %d\n", violations.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if writerErr != nil {
		fmt.Printf("  first writer error: %v\n", writerErr)
	}
	for _, msg := range reported {
		fmt.Println("  " + msg)
	}

	// Final state must be exactly one writer's snapshot
	final, err := buildService.LoadBuild(ctx, buildID)
	if err != nil {
		log.Fatalf("failed to load final state: %v", err)
	}
	if msg := checkSnapshot(final); msg != "" || final.Build.Description == "" {
		fmt.Printf("FAIL: final state is not a complete snapshot: %s\n", msg)
		os.Exit(1)
	}
	fmt.Printf("Final snapshot:   %s\n", final.Build.Description)

	if violations.Load() > 0 || replaceFailed.Load() > 0 {
		fmt.Println("FAIL: readers observed mixed state or replaces failed")
		os.Exit(1)
	}
	fmt.Printf("PASS: %d replaces, every snapshot belonged to a single writer\n", replaceOK.Load())
}

// checkSnapshot reports a snapshot whose items were not all written together
// with its build row.
func checkSnapshot(s *domain.BuildWithItems) string {
	tag := s.Build.Description
	if tag == "" {
		if n := s.Items.Count(); n != 0 {
			return fmt.Sprintf("untouched build has %d items", n)
		}
		return ""
	}

	if n := s.Items.Count(); n != itemsPerWrite {
		return fmt.Sprintf("snapshot %s has %d items, want %d", tag, n, itemsPerWrite)
	}
	for slot, items := range s.Items {
		for _, item := range items {
			if !strings.HasPrefix(item.ItemName, tag+"-") {
				return fmt.Sprintf("snapshot %s holds %s item %q", tag, slot, item.ItemName)
			}
		}
	}
	return ""
}
