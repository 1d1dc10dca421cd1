package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"goa.design/clue/log"

	kernel "github.com/shale-yeah/kernel"
	"github.com/shale-yeah/kernel/config"
	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/shape"
	"github.com/shale-yeah/kernel/telemetry"
)

func main() {
	// Define command line flags, add any other flag required to configure
	// the kernel.
	var (
		configF  = flag.String("config", "", "Kernel configuration file (YAML)")
		serversF = flag.String("servers", "", "Server catalog file (YAML, default: built-in catalog)")
		bundleF  = flag.String("bundle", "quick_screen", "Workflow to run (quick_screen, full_due_diligence, geological_deep_dive, financial_review, should_we_invest)")
		toolF    = flag.String("tool", "", "Run a single tool instead of a workflow, e.g. geowiz.analyze")
		argsF    = flag.String("args", "", "Call arguments as a JSON object")
		tractF   = flag.String("tract", "Permian-Demo-1", "Tract identifier merged into the call arguments")
		detailF  = flag.String("detail", "", "Detail level for single tool calls (summary, standard, full)")
		demoF    = flag.Bool("demo", true, "Use the built-in demo transport instead of launching worker processes")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// .env is optional; a present but unreadable file is a hard error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	// Setup logger. Replace logger with your own log package of choice.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}
	servers := config.DefaultServers()
	if *serversF != "" {
		if servers, err = config.LoadServers(*serversF); err != nil {
			log.Fatalf(ctx, err, "load server catalog")
		}
	}

	k := kernel.New(cfg,
		kernel.WithLogger(telemetry.NewClueLogger()),
		kernel.WithMetrics(telemetry.NewOTelMetrics()),
		kernel.WithTracer(telemetry.NewOTelTracer()),
	)
	if err := k.Initialize(servers...); err != nil {
		log.Fatalf(ctx, err, "initialize kernel")
	}

	if *demoF {
		k.SetExecutorFn(demoTransport())
		log.Print(ctx, log.KV{K: "transport", V: "demo"}, log.KV{K: "servers", V: len(servers)})
	} else {
		closeWorkers, err := k.StdioTransport(ctx, servers)
		if err != nil {
			log.Fatalf(ctx, err, "connect workers")
		}
		defer func() {
			if err := closeWorkers(); err != nil {
				log.Errorf(ctx, err, "close workers")
			}
		}()
	}

	args, err := callArgs(*argsF, *tractF)
	if err != nil {
		log.Fatalf(ctx, err, "parse call arguments")
	}

	ok, out := run(ctx, k, *toolF, *bundleF, *detailF, args)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf(ctx, err, "encode result")
	}
	if !ok {
		os.Exit(1)
	}
}

// run dispatches to a single tool call or a named workflow and returns the
// outcome verdict along with the value to print.
func run(ctx context.Context, k *kernel.Kernel, tool, bundleName, detail string, args map[string]any) (bool, any) {
	if tool != "" {
		req := executor.ToolRequest{Tool: tool, Args: args}
		if detail != "" {
			level, ok := shape.ParseDetailLevel(detail)
			if !ok {
				log.Fatalf(ctx, fmt.Errorf("unknown detail level %q", detail), "parse detail level")
			}
			req.DetailLevel = level
		}
		env := k.CallTool(ctx, req)
		return env.Success, env
	}

	switch bundleName {
	case "quick_screen":
		res := k.QuickScreen(ctx, args)
		return res.OverallSuccess, res
	case "full_due_diligence":
		res := k.FullAnalysis(ctx, args)
		return res.OverallSuccess, res
	case "geological_deep_dive":
		res := k.GeologicalDeepDive(ctx, args)
		return res.OverallSuccess, res
	case "financial_review":
		res := k.FinancialReview(ctx, args)
		return res.OverallSuccess, res
	case "should_we_invest":
		res := k.ShouldWeInvest(ctx, args)
		return res.OverallSuccess, res
	default:
		log.Fatalf(ctx, fmt.Errorf("unknown bundle %q", bundleName), "select workflow")
		return false, nil
	}
}

// callArgs parses the -args JSON object and overlays the -tract shortcut
// without overriding an explicit tract argument.
func callArgs(raw, tract string) (map[string]any, error) {
	args := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}
	if tract != "" {
		if _, ok := args["tract"]; !ok {
			args["tract"] = tract
		}
	}
	return args, nil
}
