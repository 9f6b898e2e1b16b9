package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/internal/config"
	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/master"
	"github.com/viniolvs/mwfaas/pkg/types"
)

var (
	runFunction     string
	runScript       string
	runReduce       string
	runReduceScript string
	runInput        string
	runRange        string
	runMeta         string
	runStrategy     string
	runItems        int
	runChunks       int
	runFailureMode  string
	runSubmitPolicy string
	runBackend      string
	runTimeout      string
	runAwaitTimeout string
	runJSON         bool
)

// inputAPI decodes user input with integers kept as int64.
var inputAPI = sonic.Config{UseInt64: true}.Froze()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a function over a JSON array",
	Long: `Split a JSON array into chunks, run a function on every chunk through the
configured backend and print the per-chunk results in order. A reducer can
combine the results when every chunk succeeded.`,
	Example: `  # square 1..10 in chunks of two and flatten the results
  mwfaas run --range 1..10 --items-per-chunk 2 --function square --reduce flatten

  # run a JavaScript function over a file on remote workers
  mwfaas run --backend http --input data.json --script double.js --reduce sum`,
	Args: cobra.NoArgs,
	RunE: runFunctionCmd,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runFunction, "function", "f", "identity", "registered function to run")
	f.StringVar(&runScript, "script", "", "JavaScript file holding the function to run")
	f.StringVarP(&runReduce, "reduce", "r", "", "registered reducer to apply")
	f.StringVar(&runReduceScript, "reduce-script", "", "JavaScript file holding the reducer")
	f.StringVarP(&runInput, "input", "i", "", "JSON file holding the input array (- for stdin)")
	f.StringVar(&runRange, "range", "", "integer input range, e.g. 1..10")
	f.StringVar(&runMeta, "meta", "", "metadata passed to every chunk, e.g. sleep=1s,tag=x")
	f.StringVarP(&runStrategy, "strategy", "s", "", "partitioning strategy (list, balanced, single)")
	f.IntVar(&runItems, "items-per-chunk", 0, "items per chunk for the list strategy")
	f.IntVar(&runChunks, "num-chunks", 0, "chunk count for the balanced strategy")
	f.StringVar(&runFailureMode, "failure-mode", "", "per_position or aggregate")
	f.StringVar(&runSubmitPolicy, "submit-policy", "", "abort or record")
	f.StringVarP(&runBackend, "backend", "b", "", "backend type (memory, http)")
	f.StringVarP(&runTimeout, "timeout", "t", "", "stop waiting for the run after this duration")
	f.StringVar(&runAwaitTimeout, "await-timeout", "", "stop waiting for a chunk after this duration")
	f.BoolVar(&runJSON, "json", false, "print the result as JSON")
}

// runOverrides maps the run flags that were set to config paths.
func runOverrides(cmd *cobra.Command) map[string]string {
	overrides := make(map[string]string)
	set := func(flag, path, value string) {
		if cmd.Flags().Changed(flag) {
			overrides[path] = value
		}
	}
	set("strategy", "master.strategy", runStrategy)
	set("items-per-chunk", "master.items_per_chunk", strconv.Itoa(runItems))
	set("num-chunks", "master.num_chunks", strconv.Itoa(runChunks))
	set("failure-mode", "master.failure_mode", runFailureMode)
	set("submit-policy", "master.submit_failure_policy", runSubmitPolicy)
	set("backend", "backend.type", runBackend)
	set("timeout", "master.run_timeout", runTimeout)
	set("await-timeout", "master.await_timeout", runAwaitTimeout)
	return overrides
}

func runFunctionCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(runOverrides(cmd))
	if err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin())
	if err != nil {
		return err
	}
	meta, err := parseMeta(runMeta)
	if err != nil {
		return err
	}
	fn, err := resolveFunction()
	if err != nil {
		return err
	}
	reducer, err := resolveReducer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, be, err := newMaster(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	res, runErr := m.Run(ctx, data, fn, meta)
	if res == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	var reduced any
	if reducer != nil && res.Complete() {
		if reduced, err = m.Reduce(ctx, res, reducer); err != nil {
			return err
		}
	}

	if runJSON {
		if err := printRunJSON(out, res, reduced, reducer != nil); err != nil {
			return err
		}
	} else {
		printRunResult(out, res)
		if reducer != nil && res.Complete() {
			fmt.Fprintf(out, "\nreduced: %s\n", formatValue(reduced))
		}
	}

	if runErr != nil {
		return runErr
	}
	if !res.Complete() {
		if reducer != nil {
			_, err := m.Reduce(ctx, res, reducer)
			return err
		}
		return fmt.Errorf("%d of %d chunks failed", len(res.Failed()), res.Len())
	}
	return nil
}

// newMaster builds the backend and master from cfg and checks credentials.
func newMaster(ctx context.Context, cfg *config.Config) (*master.Master, backend.Backend, error) {
	st, err := cfg.Strategy()
	if err != nil {
		return nil, nil, err
	}
	mc, err := cfg.MasterOptions()
	if err != nil {
		return nil, nil, err
	}
	be, err := cfg.NewBackend(log)
	if err != nil {
		return nil, nil, err
	}
	if err := be.Authenticate(ctx); err != nil {
		be.Close()
		return nil, nil, err
	}
	m, err := master.New(st, be, mc, master.WithLogger(log))
	if err != nil {
		be.Close()
		return nil, nil, err
	}
	log.Debug("master ready", zap.Stringer("master", m))
	return m, be, nil
}

func readInput(stdin io.Reader) (any, error) {
	switch {
	case runRange != "" && runInput != "":
		return nil, fmt.Errorf("--range and --input are mutually exclusive")
	case runRange != "":
		return parseRange(runRange)
	case runInput == "":
		return nil, fmt.Errorf("one of --range or --input is required")
	}

	var (
		raw []byte
		err error
	)
	if runInput == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(runInput)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var items []any
	if err := inputAPI.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("input must be a JSON array: %w", err)
	}
	return items, nil
}

// maxRangeItems bounds the input generated by --range.
const maxRangeItems = 10_000_000

// parseRange parses "a..b" into the integers a through b.
func parseRange(s string) ([]any, error) {
	lo, hi, ok := strings.Cut(s, "..")
	if !ok {
		return nil, fmt.Errorf("range %q must look like 1..10", s)
	}
	from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	to, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if to < from {
		return nil, fmt.Errorf("range %q is empty", s)
	}
	span := to - from
	if span < 0 || span >= maxRangeItems {
		return nil, fmt.Errorf("range %q has more than %d items", s, maxRangeItems)
	}
	items := make([]any, 0, span+1)
	for n := int64(0); n <= span; n++ {
		items = append(items, from+n)
	}
	return items, nil
}

func parseMeta(s string) (types.Metadata, error) {
	if s == "" {
		return nil, nil
	}
	meta := types.Metadata{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q must look like key=value", pair)
		}
		meta[k] = v
	}
	return meta, nil
}

func resolveFunction() (function.Function, error) {
	if runScript == "" {
		return function.DefaultRegistry.GetOrError(runFunction)
	}
	src, err := os.ReadFile(runScript)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(runScript), filepath.Ext(runScript))
	return function.NewScript(name, string(src))
}

func resolveReducer() (function.Reducer, error) {
	switch {
	case runReduce != "" && runReduceScript != "":
		return nil, fmt.Errorf("--reduce and --reduce-script are mutually exclusive")
	case runReduceScript != "":
		src, err := os.ReadFile(runReduceScript)
		if err != nil {
			return nil, fmt.Errorf("read reducer script: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(runReduceScript), filepath.Ext(runReduceScript))
		return function.NewScriptReducer(name, string(src))
	case runReduce != "":
		return function.DefaultRegistry.Reducer(runReduce)
	}
	return nil, nil
}

func printRunResult(w io.Writer, res *master.RunResult) {
	fmt.Fprintf(w, "run %s: %d chunks, %d failed, %s\n\n", res.RunID, res.Len(), len(res.Failed()), res.Elapsed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tENDPOINT\tSTATUS\tRESULT")
	for _, o := range res.Outcomes {
		status, value := "ok", formatValue(o.Value)
		if o.Failed() {
			status, value = string(types.CodeOf(o.Err)), o.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", o.Position, o.Endpoint, status, value)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nlatency: %s\n", res.Stats)
}

type jsonOutcome struct {
	Position int    `json:"position"`
	Endpoint string `json:"endpoint"`
	TaskID   string `json:"task_id,omitempty"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

type jsonRun struct {
	RunID    string        `json:"run_id"`
	Outcomes []jsonOutcome `json:"outcomes"`
	Failed   []int         `json:"failed"`
	Reduced  any           `json:"reduced,omitempty"`
	Elapsed  string        `json:"elapsed"`
	Stats    master.Stats  `json:"stats"`
}

func printRunJSON(w io.Writer, res *master.RunResult, reduced any, withReduce bool) error {
	out := jsonRun{
		RunID:    res.RunID,
		Outcomes: make([]jsonOutcome, len(res.Outcomes)),
		Failed:   res.Failed(),
		Elapsed:  res.Elapsed.String(),
		Stats:    res.Stats,
	}
	if out.Failed == nil {
		out.Failed = []int{}
	}
	if withReduce {
		out.Reduced = reduced
	}
	for i, o := range res.Outcomes {
		jo := jsonOutcome{Position: o.Position, Endpoint: o.Endpoint, TaskID: o.TaskID, Value: o.Value}
		if o.Failed() {
			jo.Error = o.Err.Error()
			jo.Code = string(types.CodeOf(o.Err))
		}
		out.Outcomes[i] = jo
	}
	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatValue(v any) string {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
