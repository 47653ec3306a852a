package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/pool"
)

func main() {
	var (
		stacks      = flag.Uint("stacks", 128, "Fiber stack slots")
		memories    = flag.Uint("memories", 128, "Linear memory slots")
		tables      = flag.Uint("tables", 128, "Table slots")
		stackSize   = flag.Uint64("stack-size", 1<<20, "Bytes per fiber stack")
		memoryBytes = flag.Uint64("memory-bytes", 64<<20, "Bytes per memory slot")
		tableElems  = flag.Uint("table-elems", 1<<16, "Elements per table slot")
		decommit    = flag.String("decommit", "restore_original_mapping", "Decommit behavior (zero, restore_original_mapping)")
		workers     = flag.Int("workers", 32, "Concurrent workers")
		duration    = flag.Duration("duration", 10*time.Second, "How long to run")
		hold        = flag.Duration("hold", time.Millisecond, "How long each worker holds an instance")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose pool logging")
	)
	flag.Parse()

	behavior, err := wasmpool.ParseDecommitBehavior(*decommit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	limits := wasmpool.Limits{
		TotalStacks:      uint32(*stacks),
		TotalMemories:    uint32(*memories),
		TotalTables:      uint32(*tables),
		StackSize:        *stackSize,
		MaxMemoryBytes:   *memoryBytes,
		MaxTableElements: uint64(*tableElems),
		KeepResidentBytes: wasmpool.DefaultLimits().KeepResidentBytes,
		Decommit:          behavior,
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pool.SetLogger(logger)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(limits, *workers, *hold); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(limits, *workers, *duration, *hold); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// counters aggregates worker outcomes across the run.
type counters struct {
	acquired atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
}

func run(limits wasmpool.Limits, workers int, duration, hold time.Duration) error {
	p, err := pool.New(pool.Config{Limits: limits})
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	fmt.Printf("Pool: %d stacks x %d B, %d memories x %d B, %d tables x %d elems\n",
		limits.TotalStacks, limits.StackSize,
		limits.TotalMemories, limits.MaxMemoryBytes,
		limits.TotalTables, limits.MaxTableElements)
	fmt.Printf("Decommit: %s\n", limits.Decommit)
	fmt.Printf("Running %d workers for %s...\n\n", workers, duration)

	var c counters
	stop := make(chan struct{})
	var wg sync.WaitGroup
	startWorkers(p, limits, workers, hold, stop, &wg, &c)

	start := time.Now()
	time.Sleep(duration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	stats := p.Stats()
	if err := p.Close(); err != nil {
		return fmt.Errorf("close pool: %w", err)
	}

	acquired := c.acquired.Load()
	rejected := c.rejected.Load()
	fmt.Printf("Instances allocated: %d (%.0f/s)\n", acquired, float64(acquired)/elapsed.Seconds())
	fmt.Printf("Capacity rejections: %d\n", rejected)
	if failed := c.failed.Load(); failed > 0 {
		fmt.Printf("Unexpected failures: %d\n", failed)
	}
	for _, pv := range []struct {
		name  string
		stats pool.PoolStats
	}{
		{"stacks", stats.Stacks},
		{"memories", stats.Memories},
		{"tables", stats.Tables},
	} {
		fmt.Printf("Peak %-8s %d/%d\n", pv.name, pv.stats.Peak, pv.stats.Limit)
	}
	return nil
}

// startWorkers spawns the stress loop. Each worker allocates a full
// instance, touches its memory, holds it briefly and releases it.
func startWorkers(p *pool.PoolingAllocator, limits wasmpool.Limits, workers int, hold time.Duration, stop <-chan struct{}, wg *sync.WaitGroup, c *counters) {
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}

				req := pool.InstanceRequest{
					NeedStack: limits.StackSize > 0 && limits.TotalStacks > 0,
					Memories: []pool.MemoryRequest{{
						Initial: 1 + uint64(rng.Int63n(int64(limits.MaxMemoryBytes))),
					}},
					Tables: []pool.TableRequest{{
						Initial: uint64(rng.Int63n(int64(limits.MaxTableElements) + 1)),
					}},
				}
				alloc, err := p.Allocate(req)
				if err != nil {
					if errors.IsCapacity(err) {
						c.rejected.Add(1)
						continue
					}
					c.failed.Add(1)
					continue
				}
				c.acquired.Add(1)

				mem := alloc.Memories()[0]
				buf := mem.Bytes()
				if len(buf) > 0 {
					buf[0] = 0xA5
					buf[len(buf)-1] = 0x5A
				}

				if hold > 0 {
					time.Sleep(hold)
				}
				if err := p.Deallocate(alloc); err != nil {
					c.failed.Add(1)
				}
			}
		}(int64(i) + 1)
	}
}
