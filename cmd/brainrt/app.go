package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orneryd/brainrt/pkg/brain"
	"github.com/orneryd/brainrt/pkg/config"
	"github.com/orneryd/brainrt/pkg/instructions"
	"github.com/orneryd/brainrt/pkg/logging"
	"github.com/orneryd/brainrt/pkg/metrics"
	"github.com/orneryd/brainrt/pkg/processor"
	"github.com/orneryd/brainrt/pkg/storage"
)

// app carries what every command needs once the persistent flags are parsed.
type app struct {
	configPath string
	logLevel   string
	tracing    bool

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	set     *processor.InstructionSet

	tracer     *sdktrace.TracerProvider
	prevTracer trace.TracerProvider
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		if a.cfg, err = config.LoadFile(a.configPath); err != nil {
			return err
		}
	} else {
		a.cfg = config.LoadFromEnv()
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
		a.cfg.Storage.DataDir = f.Value.String()
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if a.logger, err = logging.New(a.cfg.Logging); err != nil {
		return err
	}
	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(a.cfg.Metrics.Namespace)
	}
	a.cfg.Runtime.ApplyRuntimeMemory()
	a.set = instructions.Default()

	if a.tracing {
		if err := a.startTracing(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	a.logger.Debug("configuration loaded", zap.Stringer("config", a.cfg))
	return nil
}

func (a *app) teardown() {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("trace shutdown failed", zap.Error(err))
		}
		otel.SetTracerProvider(a.prevTracer)
		a.tracer = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// startTracing installs a global tracer provider that writes every
// processor span to w as it ends.
func (a *app) startTracing(w io.Writer) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}
	a.prevTracer = otel.GetTracerProvider()
	a.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(a.tracer)
	return nil
}

// openBrain opens the store and loads its snapshot into a fresh brain.
func (a *app) openBrain(ctx context.Context) (*brain.Brain, *storage.BadgerStore, error) {
	store, err := storage.Open(storage.Options{
		DataDir:      a.cfg.Storage.DataDir,
		InMemory:     a.cfg.Storage.InMemory,
		SyncWrites:   a.cfg.Storage.SyncWrites,
		LowMemory:    a.cfg.Storage.LowMemory,
		Logger:       a.logger,
		Instructions: a.set,
	})
	if err != nil {
		return nil, nil, err
	}

	factories := brain.NewFactories(a.cfg.Pool)
	if err := factories.Register(a.metrics); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("registering pool metrics: %w", err)
	}
	b := brain.New(brain.Config{
		IndexThreshold: a.cfg.Brain.IndexThreshold,
		Logger:         a.logger,
		Factories:      factories,
		Metrics:        a.metrics,
	})
	if err := store.Load(ctx, b); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("loading brain: %w", err)
	}
	return b, store, nil
}

func (a *app) newProcessor(b *brain.Brain) *processor.Processor {
	return processor.New(b, a.set, processor.WithLogger(a.logger), processor.WithName("cli"))
}

// =============================================================================
// Commands
// =============================================================================

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = a.cfg.Storage.DataDir
	if err := cfg.Save(output); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized data directory %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote config %s\n", output)
	return nil
}

func (a *app) runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	b, store, err := a.openBrain(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := storage.LoadGraphFile(b, args[0], storage.WithInstructions(a.set))
	if err != nil {
		return fmt.Errorf("importing %s: %w", args[0], err)
	}
	if err := store.Save(ctx, b); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d neurons created, %d links created, %d links already present\n",
		args[0], res.NeuronsCreated, res.LinksCreated, res.LinksExisting)
	if res.InfoMerged > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Merged info into %d existing links\n", res.InfoMerged)
	}
	return nil
}

func (a *app) runQuery(cmd *cobra.Command, args []string) error {
	direction, _ := cmd.Flags().GetString("direction")
	meaningNames, _ := cmd.Flags().GetStringSlice("meaning")

	b, store, err := a.openBrain(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	start, err := findText(b, args[0])
	if err != nil {
		return err
	}
	callArgs := []brain.Neuron{start}
	for _, name := range meaningNames {
		m, err := findText(b, name)
		if err != nil {
			return err
		}
		callArgs = append(callArgs, m)
	}

	var op processor.Opcode
	switch {
	case direction == "out" && len(meaningNames) == 0:
		op = instructions.OpGetAllOutgoing
	case direction == "out":
		op = instructions.OpGetOutgoing
	case direction == "in" && len(meaningNames) == 0:
		op = instructions.OpGetAllIncoming
	case direction == "in":
		op = instructions.OpGetIncoming
	default:
		return fmt.Errorf("unknown direction %q (want out or in)", direction)
	}

	out, status := a.newProcessor(b).Call(op, callArgs)
	if status != processor.StatusOK {
		return fmt.Errorf("query failed: %s", status)
	}
	for _, n := range out {
		fmt.Fprintln(cmd.OutOrStdout(), brain.Describe(n))
	}
	return nil
}

func (a *app) runSolve(cmd *cobra.Command, args []string) error {
	showMetrics, _ := cmd.Flags().GetBool("metrics")
	ctx := cmd.Context()
	if a.cfg.Processor.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Processor.SolveTimeout)
		defer cancel()
	}

	b, store, err := a.openBrain(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	roots := make([]brain.Neuron, 0, len(args))
	for _, name := range args {
		n, err := findText(b, name)
		if err != nil {
			return err
		}
		roots = append(roots, n)
	}

	var (
		mu      sync.Mutex
		results = make(map[brain.ID][]brain.Neuron, len(roots))
	)
	group := processor.NewGroup(b, a.set, a.cfg.Processor.Workers,
		processor.WithLogger(a.logger),
		processor.WithSolved(func(n brain.Neuron, out []brain.Neuron) {
			mu.Lock()
			results[n.ID()] = out
			mu.Unlock()
		}),
	)
	if err := group.Solve(ctx, roots...); err != nil {
		return err
	}
	if err := store.Save(ctx, b); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for i, n := range roots {
		out := results[n.ID()]
		if len(out) == 0 {
			continue
		}
		described := make([]string, len(out))
		for j, r := range out {
			described[j] = brain.Describe(r)
		}
		fmt.Fprintf(w, "%s: %s\n", args[i], strings.Join(described, " "))
	}
	fmt.Fprintf(w, "Solved %d neurons\n", len(roots))

	if showMetrics && a.metrics != nil {
		return printMetrics(w, a.metrics.Registry())
	}
	return nil
}

func (a *app) runStats(cmd *cobra.Command, args []string) error {
	b, store, err := a.openBrain(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Neurons:  %d\n", b.Count())
	fmt.Fprintf(w, "Links:    %d\n", b.LinkCount())
	fmt.Fprintf(w, "Next id:  %d\n", b.NextID())

	f := b.Factories()
	for _, p := range []struct {
		name  string
		stats metrics.PoolStatsFunc
	}{
		{f.IDLists.Name(), f.IDLists.Stats},
		{f.LinkLists.Name(), f.LinkLists.Stats},
		{f.NeuronLists.Name(), f.NeuronLists.Stats},
	} {
		gets, hits, misses, drops := p.stats()
		fmt.Fprintf(w, "Pool %-13s gets=%d hits=%d misses=%d drops=%d\n", p.name, gets, hits, misses, drops)
	}

	if a.metrics == nil {
		return nil
	}
	fmt.Fprintln(w, "Metrics:")
	return printMetrics(w, a.metrics.Registry())
}

func (a *app) runInstructions(cmd *cobra.Command, args []string) error {
	for _, name := range a.set.Names() {
		in, _ := a.set.LookupName(name)
		fmt.Fprintf(cmd.OutOrStdout(), "%-18s args=%d  %s\n", in.Name, in.ArgCount, in.Description)
	}
	return nil
}

// printMetrics writes counters and gauges as "name{labels} value" and
// histograms as their sample count and sum.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			name := f.GetName()
			if pairs := m.GetLabel(); len(pairs) > 0 {
				labels := make([]string, len(pairs))
				for i, l := range pairs {
					labels[i] = fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
				}
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func findText(b *brain.Brain, name string) (brain.Neuron, error) {
	if t, ok := b.FindText(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("no neuron named %q: %w", name, brain.ErrNotFound)
}
