package cli

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/roach88/moka/internal/store"
	"github.com/roach88/moka/internal/verifier"
)

// BatchOptions holds the flags of the batch command.
type BatchOptions struct {
	Mode      string
	Classpath []string
	Output    string
}

// BatchItem is the outcome of one module of a batch.
type BatchItem struct {
	Module   string `json:"module"`
	Key      string `json:"key,omitempty"`
	Cached   bool   `json:"cached"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Status   string `json:"status"` // "ok", "rejected" or "failed"
	Message  string `json:"message,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{}

	cmd := &cobra.Command{
		Use:   "batch <module>...",
		Short: "Run independent modules on a worker pool",
		Long: `Verify, or instrument, several independent modules at once.

Each argument is one module: a .jar archive, a directory or a .class file.
All modules share the classpath. The --concurrency setting bounds the
workers; by default there is one per CPU.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Mode != store.ModeVerify && opts.Mode != store.ModeInstrument {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be verify or instrument", opts.Mode))
			}
			return withSession(rootOpts, cmd, func(s *session) error {
				return runBatch(cmd, s, opts, args)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", store.ModeVerify, "verify or instrument")
	cmd.Flags().StringSliceVar(&opts.Classpath, "classpath", nil, "installed dependencies shared by every module")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "instrumented", "output root; module i is written to <output>/<i>")
	return cmd
}

func runBatch(cmd *cobra.Command, s *session, opts *BatchOptions, modules []string) error {
	classpath, err := LoadClasses(opts.Classpath)
	if err != nil {
		return s.failLoad(err)
	}

	workers := s.opts.Config.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return s.out.Fail(ExitCommandError, ErrCodeGeneric, "start worker pool", err)
	}
	defer pool.Release()

	items := make([]BatchItem, len(modules))
	var wg sync.WaitGroup
	for i, m := range modules {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			items[i] = s.batchItem(cmd, opts, i, m, classpath)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			items[i] = BatchItem{Module: m, Status: "failed", Message: err.Error()}
		}
	}
	wg.Wait()
	s.log.Info("batch finished", "modules", len(modules), "workers", workers)

	failed := false
	for _, it := range items {
		failed = failed || it.Status != "ok"
	}
	if s.out.IsJSON() {
		if err := s.out.Success(items); err != nil {
			return err
		}
	} else {
		t := s.out.Table("Module", "Status", "Errors", "Warnings", "Cached", "Key")
		for _, it := range items {
			status := okColor.Sprint(it.Status)
			if it.Status != "ok" {
				status = errorColor.Sprint(it.Status)
			}
			key := it.Key
			if len(key) > 12 {
				key = key[:12]
			}
			t.Append([]string{it.Module, status, strconv.Itoa(it.Errors), strconv.Itoa(it.Warnings), strconv.FormatBool(it.Cached), key})
		}
		t.Render()
		for _, it := range items {
			if it.Message != "" {
				fmt.Fprintf(s.out.Writer, "%s: %s\n", it.Module, it.Message)
			}
		}
	}
	if failed {
		return NewExitError(ExitFailure, "batch had failures")
	}
	return nil
}

func (s *session) batchItem(cmd *cobra.Command, opts *BatchOptions, i int, module string, classpath [][]byte) BatchItem {
	item := BatchItem{Module: module, Status: "failed"}
	classes, err := LoadClasses([]string{module})
	if err != nil {
		item.Message = err.Error()
		return item
	}
	res, err := s.run(cmd.Context(), runRequest{Mode: opts.Mode, Module: classes, Classpath: classpath})
	if err != nil {
		item.Message = err.Error()
		return item
	}
	item.Key = res.Key
	item.Cached = res.Cached
	item.Errors = res.Result.Count(verifier.SeverityError)
	item.Warnings = res.Result.Count(verifier.SeverityWarning)
	item.Status = "ok"
	if res.Result.HasErrors {
		item.Status = "rejected"
		return item
	}
	if opts.Mode == store.ModeInstrument {
		dir := filepath.Join(opts.Output, strconv.Itoa(i))
		if _, err := writeOutputs(dir, res.Outputs); err != nil {
			item.Status = "failed"
			item.Message = err.Error()
		}
	}
	return item
}
