package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/logreduce/api"
	"github.com/agentic-research/logreduce/internal/classify"
	"github.com/agentic-research/logreduce/internal/config"
	"github.com/agentic-research/logreduce/internal/ledger"
	"github.com/agentic-research/logreduce/internal/logging"
	"github.com/agentic-research/logreduce/internal/reduce"
	"github.com/agentic-research/logreduce/internal/sink"
	"github.com/agentic-research/logreduce/internal/walker"
)

// Exit codes.
const (
	exitFailures = 1 // the run completed but some files or writes failed
	exitConfig   = 2 // nothing was processed
)

// errRunFailures marks a run that finished with recorded failures.
var errRunFailures = errors.New("log reduction finished with errors")

type options struct {
	configPath   string
	keywords     []string
	keywordFile  string
	ipPatterns   []string
	ipFile       string
	skipReserved bool
	include      []string
	exclude      []string
	skipBinary   bool
	workers      int
	index        string
	indexDriver  string
	logFile      string
	summaryJSON  bool
	verbose      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "logreduce [log_folder] [output_folder]",
		Short: "Reduce logs based on keyword or IP address",
		Long: `logreduce scans every file under log_folder and copies matching lines into
output_folder:

  by_ip/<address>.txt       lines containing an address matched by an IP pattern
  by_keyword/<keyword>.txt  lines matching a keyword regular expression
  ip_global.txt             every IP match
  keyword_global.txt        every keyword match

Each record is "<relative source path>: <original line>". Output files are
appended to and never truncated, so running twice over the same output
folder duplicates every record.

Without --ip/--ip-file any dotted quad is treated as an address; the shape
check is lenient (999.999.999.999 matches).`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Run file (.hcl or .json)")
	f.StringArrayVarP(&opts.keywords, "keywords", "k", nil, "Keyword regular expression to filter logs (repeatable)")
	f.StringVar(&opts.keywordFile, "keyword-file", "", "File containing a list of keywords, one per line")
	f.StringArrayVar(&opts.ipPatterns, "ip", nil, "IP address pattern to filter logs (repeatable)")
	f.StringVar(&opts.ipFile, "ip-file", "", "File containing a list of IP address patterns, one per line")
	f.BoolVar(&opts.skipReserved, "skip-reserved", false, "Skip reserved and local IP addresses")
	f.StringSliceVar(&opts.include, "include", nil, "Only scan files matching these globs (e.g. '**/*.log')")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Skip files matching these globs")
	f.BoolVar(&opts.skipBinary, "skip-binary", false, "Skip files that look binary")
	f.IntVarP(&opts.workers, "workers", "w", 1, "Number of files processed concurrently")
	f.StringVar(&opts.index, "index", "", "Record matches in a SQL index (sqlite path or postgres URL)")
	f.StringVar(&opts.indexDriver, "index-driver", "", "Index driver: sqlite or postgres (inferred from --index)")
	f.StringVar(&opts.logFile, "log-file", "", "Also write diagnostics to this file")
	f.BoolVar(&opts.summaryJSON, "summary-json", false, "Print the run summary as JSON on stdout")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug diagnostics")
	return cmd
}

func overrides(cmd *cobra.Command, args []string, o *options) config.Overrides {
	f := cmd.Flags()
	ov := config.Overrides{Verbose: o.verbose}
	if len(args) > 0 {
		ov.InputRoot = &args[0]
	}
	if len(args) > 1 {
		ov.OutputRoot = &args[1]
	}
	if f.Changed("keywords") {
		ov.Keywords = append([]string{}, o.keywords...)
	}
	if f.Changed("keyword-file") {
		ov.KeywordFile = &o.keywordFile
	}
	if f.Changed("ip") {
		ov.IPPatterns = append([]string{}, o.ipPatterns...)
	}
	if f.Changed("ip-file") {
		ov.IPFile = &o.ipFile
	}
	if f.Changed("skip-reserved") {
		ov.SkipReserved = &o.skipReserved
	}
	if f.Changed("include") {
		ov.Include = append([]string{}, o.include...)
	}
	if f.Changed("exclude") {
		ov.Exclude = append([]string{}, o.exclude...)
	}
	if f.Changed("skip-binary") {
		ov.SkipBinary = &o.skipBinary
	}
	if f.Changed("workers") {
		ov.Workers = &o.workers
	}
	if f.Changed("index") {
		ov.Index = &o.index
	}
	if f.Changed("index-driver") {
		ov.IndexDriver = &o.indexDriver
	}
	if f.Changed("log-file") {
		ov.LogFile = &o.logFile
	}
	return ov
}

func run(cmd *cobra.Command, args []string, o *options) error {
	// 1. Resolve configuration
	var file *config.File
	if o.configPath != "" {
		var err error
		if file, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Resolve(file, overrides(cmd, args, o))
	if err != nil {
		return err
	}

	log, err := logging.Console(cmd.ErrOrStderr(), cfg.LogFile, cfg.Verbose)
	if err != nil {
		return &api.ConfigError{Field: "log_file", Err: err}
	}
	defer func() { _ = log.Close() }()

	// 2. Compile patterns and open the input tree before touching the output
	classifier, err := classify.New(cfg.Keywords, cfg.IPPatterns, cfg.SkipReserved)
	if err != nil {
		return &api.ConfigError{Field: "patterns", Err: err}
	}
	w, err := walker.NewDir(cfg.InputRoot, walker.Options{Include: cfg.Include, Exclude: cfg.Exclude})
	if err != nil {
		return &api.ConfigError{Field: "include", Err: err}
	}
	if err := w.Check(); err != nil {
		return &api.ConfigError{Field: "input_root", Err: err}
	}

	engine := reduce.NewEngine(cfg, w, classifier, sink.NewDir(cfg.OutputRoot))
	engine.Log = log

	// 3. Optional match index
	var idx *ledger.Ledger
	if cfg.Index != "" {
		idx, err = ledger.Open(cfg.IndexDriver, cfg.Index, cfg, log)
		if err != nil {
			return &api.ConfigError{Field: "index", Err: err}
		}
		defer func() {
			if err := idx.Close(); err != nil {
				log.Errorf("index: close: %v", err)
			}
		}()
		engine.Observer = idx
	}

	// 4. Run until done or interrupted
	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, runErr := engine.Run(ctx)
	if idx != nil {
		if err := idx.Finish(sum); err != nil {
			log.Errorf("index: %v", err)
		}
	}

	report(log, sum)
	if o.summaryJSON {
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(sum.Map(), &ojg.Options{Indent: 2, Sort: true}))
	}

	if runErr != nil {
		return runErr
	}
	if sum.Failed() {
		return fmt.Errorf("%w: %d file error(s), %d write error(s)", errRunFailures, len(sum.ReadErrors), sum.WriteFailures)
	}
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func report(log *logging.Logger, sum *reduce.Summary) {
	log.Infof("Files: %d discovered, %d processed, %d skipped, %d failed",
		sum.FilesDiscovered, sum.FilesProcessed, sum.FilesSkipped, sum.FilesFailed)
	log.Infof("Lines: %d read, %d matched; events: %d ip (%d keys, %d reserved skipped), %d keyword (%d keys)",
		sum.LinesRead, sum.LinesMatched(), sum.IPEvents, len(sum.IPKeys), sum.SuppressedReserved,
		sum.KeywordEvents, len(sum.KeywordKeys))
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if api.IsConfigError(err) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFailures)
	}
}
