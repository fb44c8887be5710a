package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"apiflow/internal/fanout"
	"apiflow/pkg/checkpoint"
	"apiflow/pkg/client"
	"apiflow/pkg/ui"
	"apiflow/pkg/ui/tui"
	"apiflow/pkg/waiter"
)

var (
	waitWorkers  int
	waitFailFast bool
	waitTUI      bool
	listWaiters  bool
	checkpointAs string
	restart      bool
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait <waiter> [params...]",
	Short: "Poll until a resource reaches the waiter's success state",
	Long: `Run a waiter from the waiter model.

Each params argument is a JSON or YAML document, inline or as @file. With
more than one, the waits run concurrently.`,
	Example: `  # Wait for a table to become active
  apiflow wait TableExists '{"TableName":"users"}' -s dynamodb --waiters waiters.yaml

  # Wait for several tables with a live dashboard
  apiflow wait TableExists '{"TableName":"a"}' '{"TableName":"b"}' --tui

  # List waiters in the model
  apiflow wait --list --waiters waiters.yaml`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listWaiters {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)

	waitCmd.Flags().IntVar(&waitWorkers, "workers", 4, "number of concurrent waits")
	waitCmd.Flags().BoolVar(&waitFailFast, "fail-fast", false, "cancel remaining waits after the first failure")
	waitCmd.Flags().BoolVar(&waitTUI, "tui", false, "show a live dashboard")
	waitCmd.Flags().BoolVar(&listWaiters, "list", false, "list the waiters in the model")
	waitCmd.Flags().StringVar(&checkpointAs, "checkpoint", "", "record finished waits under this name and skip them on the next run")
	waitCmd.Flags().BoolVar(&restart, "restart", false, "discard an existing checkpoint before starting")
}

func runWait(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer writeMetrics(c)

	if listWaiters {
		if c.Waiters() == nil {
			return fmt.Errorf("no waiter model configured, use --waiters")
		}
		for _, name := range c.Waiters().WaiterNames() {
			cfg, _ := c.Waiters().Config(name)
			ui.PrintResult(fmt.Sprintf("%-32s %s", name, cfg.Operation))
		}
		return nil
	}

	name := args[0]
	paramSets := make([]map[string]any, 0, len(args)-1)
	for _, arg := range args[1:] {
		params, err := parseParams(arg)
		if err != nil {
			return err
		}
		paramSets = append(paramSets, params)
	}
	if len(paramSets) == 0 {
		paramSets = append(paramSets, map[string]any{})
	}

	var progress *batchProgress
	if checkpointAs != "" {
		if progress, err = openProgress(name, c.Endpoint().ServiceID, paramSets); err != nil {
			return err
		}
		if paramSets = progress.pending(); len(paramSets) == 0 {
			ui.PrintSuccess(fmt.Sprintf("All waits in checkpoint %s already succeeded", checkpointAs))
			return nil
		}
	}

	start := time.Now()
	if len(paramSets) == 1 && !waitTUI && progress == nil {
		ui.PrintInfo("Waiting", name)
		if err := c.Wait(cmd.Context(), name, paramSets[0], waiter.WithObserver(progressObserver{})); err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("%s succeeded in %s", name, time.Since(start).Round(time.Millisecond)))
		return nil
	}

	results, err := waitAll(cmd, c, name, paramSets)
	if err != nil && len(results) == 0 {
		return err
	}
	if progress != nil {
		if saveErr := progress.record(results); saveErr != nil {
			ui.PrintWarning("Failed to save checkpoint", saveErr.Error())
		}
	}
	for _, r := range results {
		if r.Err != nil {
			ui.PrintError(r.Name, r.Err.Error())
		} else {
			ui.PrintSuccess(fmt.Sprintf("%s succeeded in %s", r.Name, r.Duration.Round(time.Millisecond)))
		}
	}
	if failed := fanout.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%d of %d waits failed", len(failed), len(results))
	}
	return err
}

func waitAll(cmd *cobra.Command, c *client.Client, name string, paramSets []map[string]any) ([]fanout.Result, error) {
	opts := client.WaitAllOptions{Workers: waitWorkers, FailFast: waitFailFast}
	if !waitTUI {
		return c.WaitAll(cmd.Context(), name, paramSets, opts)
	}

	jobs := make([]string, len(paramSets))
	for i := range paramSets {
		jobs[i] = fmt.Sprintf("%s[%d]", name, i)
	}
	dash := tui.New(name, jobs, tea.WithOutput(os.Stderr))
	opts.Observe = dash.Observer

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		results []fanout.Result
		err     error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		results, err = c.WaitAll(ctx, name, paramSets, opts)
		dash.Done()
	}()

	runErr := dash.Run()
	// The dashboard also exits when the user quits; stop the waits then.
	cancel()
	<-finished
	if runErr != nil {
		return nil, runErr
	}
	return results, err
}

// batchProgress tracks a checkpointed batch of waits.
type batchProgress struct {
	manager *checkpoint.Manager
	cp      *checkpoint.Checkpoint
	sets    []map[string]any
	keys    []string
	todo    []int
}

func openProgress(waiterName, service string, sets []map[string]any) (*batchProgress, error) {
	manager, err := checkpoint.NewManager(checkpointAs)
	if err != nil {
		return nil, err
	}
	if restart {
		if err := manager.Delete(); err != nil {
			return nil, err
		}
	}

	cp, err := manager.Load()
	if err != nil {
		return nil, err
	}
	if cp != nil && cp.Waiter != waiterName {
		return nil, fmt.Errorf("checkpoint %s belongs to waiter %s, use --restart to replace it", checkpointAs, cp.Waiter)
	}
	if cp == nil {
		if cp, err = manager.Create(checkpointAs, waiterName, service); err != nil {
			return nil, err
		}
	}

	p := &batchProgress{manager: manager, cp: cp, sets: sets}
	for i, params := range sets {
		key, err := checkpoint.ParamsKey(params)
		if err != nil {
			return nil, err
		}
		p.keys = append(p.keys, key)
		if !cp.IsDone(key) {
			p.todo = append(p.todo, i)
		}
	}
	if skipped := len(sets) - len(p.todo); skipped > 0 {
		ui.PrintDim(fmt.Sprintf("Skipping %d wait(s) recorded in checkpoint %s", skipped, checkpointAs))
	}
	return p, nil
}

func (p *batchProgress) pending() []map[string]any {
	out := make([]map[string]any, len(p.todo))
	for i, idx := range p.todo {
		out[i] = p.sets[idx]
	}
	return out
}

// record saves the successful results, which are in pending order.
func (p *batchProgress) record(results []fanout.Result) error {
	var done []string
	for i, r := range results {
		if r.Err == nil && i < len(p.todo) {
			done = append(done, p.keys[p.todo[i]])
		}
	}
	if len(done) == 0 {
		return nil
	}
	return p.manager.RecordSuccess(p.cp, done...)
}

// progressObserver prints each poll of a single wait.
type progressObserver struct{}

func (progressObserver) ObserveWaiterAttempt(name string, attempt int, state waiter.State) {
	ui.PrintDim(fmt.Sprintf("%s attempt %d: %s", name, attempt, state))
}

func (progressObserver) ObserveWaiterResult(string, int, error) {}
