// Command nvme-bench drives an nvme.QueuePair against an in-process
// loopback namespace, exercising submit/process_completions the way a
// real caller would but without any hardware underneath.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	nvme "github.com/behrlich/go-nvme-queue"
	"github.com/behrlich/go-nvme-queue/internal/constants"
	"github.com/behrlich/go-nvme-queue/internal/hostio"
	"github.com/behrlich/go-nvme-queue/internal/logging"
	"github.com/behrlich/go-nvme-queue/internal/loopdev"
	"github.com/behrlich/go-nvme-queue/internal/queue"
)

const (
	ctrlID         = 0
	qid            = 1
	nsid           = 1
	defaultNSBytes = 64 * 1024 * 1024
	defaultBlockSz = 512
	sqDoorbellAddr = uintptr(0x1000)
	cqDoorbellAddr = uintptr(0x1004)
)

func main() {
	root := &cobra.Command{
		Use:   "nvme-bench",
		Short: "Exercise an nvme.QueuePair against a loopback namespace",
	}

	var qsize uint32
	var ops int
	var blockSize uint32
	var verbose bool

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	run := &cobra.Command{
		Use:   "run",
		Short: "Submit a series of block writes and a final flush (no data is read back)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(qsize, ops, blockSize, verbose)
		},
	}
	run.Flags().Uint32Var(&qsize, "queue-depth", 32, "SQ/CQ entries")
	run.Flags().IntVar(&ops, "ops", 1000, "number of writes to submit")
	run.Flags().Uint32Var(&blockSize, "block-size", defaultBlockSz, "logical block size")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Run a short fixed workload and print the metrics snapshot as text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(16, 100, defaultBlockSz, verbose)
		},
	}

	root.AddCommand(run, stats)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBench(qsize uint32, ops int, blockSize uint32, verbose bool) error {
	logConfig := logging.DefaultConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))
	logger := logging.NewLogger(logConfig).WithController(ctrlID).WithQueue(qid)

	loop := hostio.NewLoopback()
	mmio := hostio.NewRecordingMMIO(loop)
	ns := hostio.NewMemoryNamespace(defaultNSBytes, blockSize)
	table := hostio.NewStaticNamespaceTable(map[uint32]*hostio.MemoryNamespace{nsid: ns})

	cfg := nvme.DefaultParams(sqDoorbellAddr, cqDoorbellAddr, mmio, loop, table)
	cfg.QID = qid
	cfg.QSize = qsize
	cfg.Logger = logger

	qp, err := nvme.CreateIOQueue(cfg)
	if err != nil {
		return fmt.Errorf("create_io_queue: %w", err)
	}
	defer nvme.DestroyIOQueue(qp)

	logger.Info("running bench", "ops", ops, "queue_depth", qsize, "block_size", blockSize)

	device := loopdev.New(qp.DeviceRing(), table)

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := 0

	geometry := ns.Geometry()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < ops; i++ {
		block := uint64(i) % (geometry.BlockCount - 1)
		offset := block * uint64(blockSize)

		writeBuf := queue.GetBuffer(blockSize)
		rng.Read(writeBuf)

		wg.Add(1)
		var status int
		for attempt := 0; attempt < 8; attempt++ {
			status = qp.SubmitWrite(nsid, writeBuf, offset, func(cbArg any, err error) {
				defer wg.Done()
				defer queue.PutBuffer(writeBuf)
				if err != nil {
					mu.Lock()
					errs++
					mu.Unlock()
				}
			}, nil, 0)
			if status != nvme.StatusBusy {
				break
			}
			device.Poll()
			qp.ProcessCompletions(0)
			time.Sleep(constants.PollBackoff)
		}
		if status <= 0 {
			wg.Done()
			queue.PutBuffer(writeBuf)
			mu.Lock()
			errs++
			mu.Unlock()
			logger.WithError(qp.StatusError("submit_write", status)).Warnf("submit_write rejected after retries")
			continue
		}

		device.Poll()
		qp.ProcessCompletions(0)
	}
	wg.Wait()

	if flushStatus := submitFlushSync(qp, device); flushStatus != 0 {
		errs += flushStatus
	}

	snap := qp.MetricsSnapshot()
	fmt.Printf("ops=%d errors=%d write_ops=%d read_bytes=%d write_bytes=%d avg_latency_us=%.1f error_rate=%.2f%%\n",
		ops, errs, snap.WriteOps, snap.ReadBytes, snap.WriteBytes,
		float64(snap.AvgLatencyNs)/1000.0, snap.ErrorRate)
	return nil
}

func submitFlushSync(qp *nvme.QueuePair, device *loopdev.Device) int {
	done := make(chan error, 1)
	status := qp.SubmitFlush(nsid, func(cbArg any, err error) { done <- err }, nil)
	if status <= 0 {
		return 1
	}
	device.Poll()
	qp.ProcessCompletions(0)
	select {
	case err := <-done:
		if err != nil {
			return 1
		}
	case <-time.After(time.Second):
		return 1
	}
	return 0
}
