// Command fraudforest trains and evaluates the transaction fraud forest.
//
//	fraudforest --config fraud.yaml train --progress
//	fraudforest --config fraud.yaml fit-pipeline
//	fraudforest --config fraud.yaml evaluate
//	fraudforest runs --registry artifacts/runs.db
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/cheggaaa/pb/v3"

	"github.com/fraudlab/fraudforest/internal/config"
	"github.com/fraudlab/fraudforest/internal/registry"
	"github.com/fraudlab/fraudforest/internal/workflow"
	"github.com/fraudlab/fraudforest/pkg/log"
	"github.com/fraudlab/fraudforest/sklearn/ensemble"
)

const defaultEnvFile = ".env"

type trainCmd struct {
	Progress bool `arg:"--progress" help:"show a progress bar while trees are fitted"`
}

type fitPipelineCmd struct {
	Output string `arg:"-o,--output" help:"pipeline artifact path (overrides pipeline.artifactPath)"`
}

type evaluateCmd struct {
	Model string `arg:"--model" help:"model artifact path (overrides output.modelPath)"`
}

type runsCmd struct {
	Registry string `arg:"--registry,required" help:"run registry file"`
	Limit    int    `arg:"-n,--limit" default:"10" help:"number of runs to list, 0 for all"`
}

type args struct {
	Config   string `arg:"-c,--config,env:FRAUDFOREST_CONFIG" help:"YAML configuration file"`
	EnvFile  string `arg:"--env-file" default:".env" help:"dotenv file loaded before the configuration"`
	LogLevel string `arg:"--log-level" help:"debug, info, warn or error (overrides logLevel)"`

	Train       *trainCmd       `arg:"subcommand:train" help:"fit the forest and evaluate it on the later transactions"`
	FitPipeline *fitPipelineCmd `arg:"subcommand:fit-pipeline" help:"fit the feature pipeline and save it"`
	Evaluate    *evaluateCmd    `arg:"subcommand:evaluate" help:"score a saved model on the test partition"`
	Runs        *runsCmd        `arg:"subcommand:runs" help:"list recorded runs"`
}

func (args) Description() string {
	return "Train a class-balanced random forest on time-ordered transactions and report fraud metrics."
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	var a args
	p, err := arg.NewParser(arg.Config{Program: "fraudforest"}, &a)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	switch err := p.Parse(argv); {
	case err == arg.ErrHelp:
		p.WriteHelp(stdout)
		return 0
	case err != nil:
		fmt.Fprintln(stderr, "error:", err)
		p.WriteUsage(stderr)
		return 2
	case p.Subcommand() == nil:
		p.WriteUsage(stderr)
		return 2
	}

	if a.Runs != nil {
		return listRuns(a.Runs, stdout, stderr)
	}

	if err := config.LoadEnvFile(a.EnvFile, a.EnvFile == defaultEnvFile); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	cfg, err := config.Load(a.Config)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if a.LogLevel != "" {
		cfg.LogLevel = a.LogLevel
	}
	if err := log.SetupLogger(cfg.LogLevel, stderr); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	logger := log.GetLoggerWithName("cli")

	switch {
	case a.Train != nil:
		err = train(ctx, cfg, a.Train, stdout, stderr)
	case a.FitPipeline != nil:
		if a.FitPipeline.Output != "" {
			cfg.Pipeline.ArtifactPath = a.FitPipeline.Output
		}
		err = fitPipeline(ctx, cfg, stdout)
	case a.Evaluate != nil:
		if a.Evaluate.Model != "" {
			cfg.Output.ModelPath = a.Evaluate.Model
		}
		err = evaluate(ctx, cfg, stdout)
	}
	if err != nil {
		logger.Error("Command failed", err)
		return 1
	}
	return 0
}

func train(ctx context.Context, cfg config.Settings, cmd *trainCmd, stdout, stderr io.Writer) error {
	var opts workflow.Options
	if cmd.Progress {
		bar := pb.Simple.New(cfg.Forest.NEstimators).SetWriter(stderr).Start()
		defer bar.Finish()
		opts.Callbacks = append(opts.Callbacks, func(ensemble.CallbackEnv) { bar.Increment() })
	}
	res, err := workflow.Run(ctx, cfg, opts)
	if err != nil {
		return err
	}
	printResult(stdout, res)
	return nil
}

func fitPipeline(ctx context.Context, cfg config.Settings, stdout io.Writer) error {
	p, err := workflow.FitPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pipeline saved to %s\nfeatures: %s\n", cfg.Pipeline.ArtifactPath, strings.Join(p.FeatureNames(), ", "))
	return nil
}

func evaluate(ctx context.Context, cfg config.Settings, stdout io.Writer) error {
	res, err := workflow.Evaluate(ctx, cfg, workflow.Options{})
	if err != nil {
		return err
	}
	printResult(stdout, res)
	return nil
}

func printResult(w io.Writer, res *workflow.Result) {
	fmt.Fprintf(w, "run %s\n", res.RunID)
	fmt.Fprintf(w, "cutoff %g: %d train rows, %d test rows\n\n",
		res.Split.Cutoff, res.Split.Train.Len(), res.Split.Test.Len())
	fmt.Fprintln(w, res.Report)
	fmt.Fprintln(w, res.Confusion)
	fmt.Fprintf(w, "ROC AUC: %.4f  average precision: %.4f  log loss: %.4f  Brier: %.4f\n\n",
		res.Scores.ROCAUC, res.Scores.AveragePrecision, res.Scores.LogLoss, res.Scores.Brier)
	fmt.Fprint(w, res.Importances)
}

func listRuns(cmd *runsCmd, stdout, stderr io.Writer) int {
	store, err := registry.Open(cmd.Registry)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	defer store.Close()
	runs, err := store.List(cmd.Limit)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	for _, r := range runs {
		var fraud registry.ClassSummary
		for _, c := range r.Classes {
			if c.Label == workflow.ClassNames[1] {
				fraud = c
			}
		}
		fmt.Fprintf(stdout, "%s  %-12s %s  acc=%.4f auc=%.4f fraud_recall=%.4f fraud_precision=%.4f\n",
			r.StartedAt.Format("2006-01-02T15:04:05Z07:00"), r.Command, r.ID,
			r.Accuracy, r.Scores.ROCAUC, fraud.Recall, fraud.Precision)
	}
	return 0
}
