package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"mlir-eval/internal/model"
	"mlir-eval/internal/router"
	"mlir-eval/internal/service"

	"github.com/spf13/cobra"
)

type outputFlags struct {
	json   bool
	report string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print JSON instead of markdown")
	cmd.Flags().StringVar(&o.report, "report", "", "also write the markdown report to this file")
}

// emit 输出 JSON 或 markdown，markdown 同时可写入 --report 文件
func (o *outputFlags) emit(cmd *cobra.Command, v any, markdown string) error {
	if err := writeReport(o.report, markdown); err != nil {
		return err
	}
	if o.json {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), markdown)
	return err
}

func (a *app) runCommand() *cobra.Command {
	var (
		out            outputFlags
		skipGeneration bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a batch, compile every file and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExperiment(cmd, &out, skipGeneration)
		},
	}
	cmd.Flags().BoolVar(&skipGeneration, "skip-generation", false, "evaluate the files already on disk")
	out.register(cmd)
	return cmd
}

func (a *app) evaluateCommand() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compile the files already on disk and persist the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExperiment(cmd, &out, true)
		},
	}
	out.register(cmd)
	return cmd
}

func (a *app) runExperiment(cmd *cobra.Command, out *outputFlags, skipGeneration bool) error {
	e, err := a.selectedExperiment()
	if err != nil {
		return err
	}
	svc, err := a.services(true)
	if err != nil {
		return err
	}

	result, err := svc.Runner.Run(cmd.Context(), service.ExperimentRunRequest{
		Experiment:     e,
		SkipGeneration: skipGeneration,
	})
	if err != nil {
		return err
	}
	return out.emit(cmd, result, service.RenderRunMarkdown(result))
}

func (a *app) generateCommand() *cobra.Command {
	var (
		all   bool
		count int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate programs without compiling them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count > 0 {
				a.cfg.Generation.BatchSize = count
			}
			svc, err := a.services(false)
			if err != nil {
				return err
			}

			var reports []*service.GenerationReport
			if all {
				reports, err = svc.Runner.GenerateAll(cmd.Context(), a.cfg.Generation.BatchSize)
			} else {
				var e model.Experiment
				if e, err = a.selectedExperiment(); err != nil {
					return err
				}
				var rep *service.GenerationReport
				rep, err = svc.Runner.Generate(cmd.Context(), e)
				if rep != nil {
					reports = append(reports, rep)
				}
			}

			w := cmd.OutOrStdout()
			for _, r := range reports {
				fmt.Fprintf(w, "%s: written %d/%d, non-zero exit %d, timed out %d, dropped %d\n",
					r.Directory, r.Written, r.Count, r.NonZeroExit, r.TimedOut, r.Dropped)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "generate for every experiment directory")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "programs per directory (default: generation.batch_size)")
	return cmd
}

func (a *app) summarizeCommand() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Print summary statistics for the persisted results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.selectedExperiment()
			if err != nil {
				return err
			}
			svc, err := a.services(false)
			if err != nil {
				return err
			}
			batch, _, err := svc.Runner.LoadResults(e)
			if err != nil {
				return err
			}
			s := service.Summarize(batch)
			return out.emit(cmd, s, service.RenderSummaryMarkdown(e.String(), s))
		},
	}
	out.register(cmd)
	return cmd
}

func (a *app) analyzeCommand() *cobra.Command {
	var (
		out    outputFlags
		marker string
	)
	cmd := &cobra.Command{
		Use:   "analyze [results.json]",
		Short: "Count marker operations in the files referenced by a results file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				e, err := a.selectedExperiment()
				if err != nil {
					return err
				}
				if path, err = service.ResultsPath(a.cfg.Generation.Root, e); err != nil {
					return err
				}
			}
			if marker == "" {
				marker = a.cfg.Analysis.Marker
			}

			report, err := service.NewAnalyzer(marker, a.logger).Analyze(path)
			if err != nil {
				return err
			}
			return out.emit(cmd, report, service.RenderAnalysisMarkdown(report))
		},
	}
	cmd.Flags().StringVar(&marker, "marker", "", "substring to count (default: analysis.marker)")
	out.register(cmd)
	return cmd
}

func (a *app) compareCommand() *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "compare <experiment-a> <experiment-b>",
		Short: "Two-proportion z-test on the compile rates of two experiments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(false)
			if err != nil {
				return err
			}
			exps := make([]model.Experiment, 2)
			batches := make([]model.Batch, 2)
			for i, name := range args {
				if exps[i], err = model.ParseExperiment(name); err != nil {
					return err
				}
				if batches[i], _, err = svc.Runner.LoadResults(exps[i]); err != nil {
					return err
				}
			}
			c := service.CompareBatches(exps[0].String(), batches[0], exps[1].String(), batches[1])
			return out.emit(cmd, c, service.RenderComparisonMarkdown(c))
		},
	}
	out.register(cmd)
	return cmd
}

func (a *app) genericCommand() *cobra.Command {
	var (
		out   outputFlags
		count int
	)
	cmd := &cobra.Command{
		Use:   "generic",
		Short: "Print generated programs in generic form and run them in the reference interpreter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count > 0 {
				a.cfg.Generic.BatchSize = count
			}
			svc, err := a.services(false)
			if err != nil {
				return err
			}
			report, err := svc.Generic.Run(cmd.Context())
			if err != nil {
				return err
			}
			return out.emit(cmd, report, service.RenderGenericMarkdown(report))
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "programs to generate (default: generic.batch_size)")
	out.register(cmd)
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve results, summaries and run triggers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			svc, err := a.services(true)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler: router.SetupRouter(svc),
			}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			a.logger.Info("server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("启动服务失败: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default: server.port)")
	return cmd
}

func (a *app) experimentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "experiments",
		Short: "List experiments and their compiler pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFOLDER\tPIPELINE")
			for _, e := range model.Experiments() {
				folder, _ := e.Folder(a.cfg.Generation.Root)
				pipeline, _ := e.Pipeline()
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e, folder, pipeline)
			}
			return tw.Flush()
		},
	}
}
