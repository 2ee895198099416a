package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vfrank66/splink/pkg/adapters/datasource"
	"github.com/vfrank66/splink/pkg/blocking"
	"github.com/vfrank66/splink/pkg/config"
	"github.com/vfrank66/splink/pkg/dialect"
	"github.com/vfrank66/splink/pkg/logging"
	"github.com/vfrank66/splink/pkg/models"
	"github.com/vfrank66/splink/pkg/pipeline"
	"github.com/vfrank66/splink/pkg/report"
	"github.com/vfrank66/splink/pkg/retry"
	"github.com/vfrank66/splink/pkg/services"
)

type rootOptions struct {
	configPath   string
	settingsPath string
}

// env is what every command needs: configuration, the linkage settings
// and a logger.
type env struct {
	cfg      *config.Config
	settings *config.Settings
	logger   *zap.Logger
}

func (o *rootOptions) load() (*env, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath, Version)
	} else {
		cfg, err = config.LoadDefault(Version)
	}
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	path := cfg.SettingsPath
	if o.settingsPath != "" {
		path = o.settingsPath
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("datasource", fmt.Sprintf("%s@%s:%d/%s", cfg.Datasource.User, cfg.Datasource.Host, cfg.Datasource.Port, cfg.Datasource.Database)),
		zap.String("settings", path),
		zap.Int("rules", len(settings.Rules)))
	return &env{cfg: cfg, settings: settings, logger: logger}, nil
}

// connection is an open datasource with its table store.
type connection struct {
	exec    datasource.QueryExecutor
	store   *datasource.TableStore
	dialect string
}

func (e *env) factory() datasource.DatasourceAdapterFactory {
	return datasource.NewDatasourceAdapterFactory(retry.DefaultConfig(), e.logger)
}

func (e *env) connect(ctx context.Context) (*connection, error) {
	factory := e.factory()
	info, ok := datasource.GetAdapterInfo(e.cfg.Datasource.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type %q (registered: %s)",
			e.cfg.Datasource.Type, strings.Join(adapterTypes(factory), ", "))
	}
	d, err := dialect.Get(info.Dialect)
	if err != nil {
		return nil, err
	}
	if s := e.settings.Linkage.SQLDialect; s != "" && s != d.Name() {
		return nil, fmt.Errorf("settings use sql_dialect %q but the %s datasource speaks %q", s, info.DisplayName, d.Name())
	}

	exec, err := factory.NewQueryExecutor(ctx, e.cfg.Datasource.Type, e.cfg.Datasource.ConnectionMap())
	if err != nil {
		return nil, errors.New(logging.SanitizeError(err))
	}
	store := datasource.NewTableStore(exec, d, e.cfg.RunID, e.logger)
	e.logger.Info("Connected to datasource",
		zap.String("type", info.Type),
		zap.String("run_id", store.RunID()))
	return &connection{exec: exec, store: store, dialect: d.Name()}, nil
}

func (c *connection) close(logger *zap.Logger) {
	if err := c.exec.Close(); err != nil {
		logger.Warn("Failed to close datasource", zap.Error(err))
	}
}

func adapterTypes(factory datasource.DatasourceAdapterFactory) []string {
	infos := factory.ListTypes()
	types := make([]string, len(infos))
	for i, info := range infos {
		types[i] = info.Type
	}
	return types
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List datasource adapters and test the configured connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return checkDatasource(cmd.Context(), cmd.OutOrStdout(), e.factory(),
				e.cfg.Datasource.Type, e.cfg.Datasource.ConnectionMap())
		},
	}
}

// checkDatasource lists the registered adapters, marking dsType, then opens
// one connection and tests it without retrying.
func checkDatasource(ctx context.Context, w io.Writer, factory datasource.DatasourceAdapterFactory, dsType string, cfg map[string]any) error {
	for _, info := range factory.ListTypes() {
		marker := " "
		if info.Type == dsType {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-10s %-28s dialect=%s\n", marker, info.Type, info.DisplayName, info.Dialect)
	}

	tester, err := factory.NewConnectionTester(ctx, dsType, cfg)
	if err != nil {
		return err
	}
	defer tester.Close()
	if err := tester.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection to %s failed: %s", dsType, logging.SanitizeError(err))
	}
	_, err = fmt.Fprintf(w, "connection to %s ok\n", dsType)
	return err
}

func newPlanCommand(opts *rootOptions) *cobra.Command {
	var dialectName string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the SQL the blocking rules compile to",
		Long: "Print the concatenated input, the exploded id pair tables and the blocked pairs query.\n" +
			"Tables are shown under their logical names; a run adds a unique suffix.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			return writePlan(cmd.OutOrStdout(), e.settings, e.settings.Dialect(dialectName))
		},
	}
	cmd.Flags().StringVar(&dialectName, "dialect", "postgres", "SQL dialect when the settings name none")
	return cmd
}

// writePlan prints every statement a blocking run executes. Exploding rules
// are attached to their logical table names.
func writePlan(w io.Writer, settings *config.Settings, dialectName string) error {
	rc, err := blocking.NewRenderContext(dialectName, settings.Linkage.LinkType, settings.Linkage.ColumnSettings)
	if err != nil {
		return err
	}
	plan := blocking.Assemble(settings.Rules)

	concat, err := blocking.ConcatInputSQL(rc, settings.Linkage.InputTables, plan.HasSalted())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "-- %s\n%s;\n\n", blocking.ConcatTable, concat)

	for _, ar := range plan.Exploding() {
		p, err := blocking.MarginalExplodedPipeline(plan, rc, blocking.ConcatTable, nil, ar.MatchKey)
		if err != nil {
			return err
		}
		if err := writePipeline(w, p); err != nil {
			return err
		}
		name := blocking.MarginalExplodedTableName(ar.MatchKey)
		if plan, err = plan.WithMaterialized(ar.MatchKey, models.TableHandle{OutputName: name, PhysicalName: name}); err != nil {
			return err
		}
	}

	p, err := blocking.BlockedPairsPipeline(plan, rc, blocking.ConcatTable, settings.Linkage.Deterministic)
	if err != nil {
		return err
	}
	return writePipeline(w, p)
}

func writePipeline(w io.Writer, p *pipeline.Pipeline) error {
	sql, err := p.SQL()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "-- %s\n%s;\n\n", p.OutputName(), sql)
	return err
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var chart bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Count the comparisons each blocking rule adds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.close(e.logger)

			exploded := services.NewExplodedPairsService(conn.exec, conn.store, e.logger)
			svc := services.NewBlockingAnalysisService(conn.exec, conn.store, exploded, conn.dialect, e.logger)
			rows, err := svc.CumulativeComparisons(ctx, e.settings.Linkage.ForAnalysis(), e.settings.Rules, chart)
			if err != nil {
				return err
			}
			report.WriteAnalysis(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&chart, "chart", true, "also compute the cartesian size and reduction ratio")
	return cmd
}

func newCountCommand(opts *rootOptions) *cobra.Command {
	var preFilter bool
	cmd := &cobra.Command{
		Use:   "count <predicate>",
		Short: "Count the comparisons a single blocking rule generates on its own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.load()
			if err != nil {
				return err
			}
			rule, err := blocking.NewRule(args[0])
			if err != nil {
				return err
			}
			conn, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.close(e.logger)

			exploded := services.NewExplodedPairsService(conn.exec, conn.store, e.logger)
			svc := services.NewBlockingAnalysisService(conn.exec, conn.store, exploded, conn.dialect, e.logger)

			var n int64
			if preFilter {
				n, err = svc.CountComparisonsPreFilter(ctx, e.settings.Linkage.ForAnalysis(), rule)
			} else {
				n, err = svc.CountComparisons(ctx, e.settings.Linkage.ForAnalysis(), rule)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d comparisons\n", rule, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&preFilter, "pre-filter", false, "estimate from equi-join keys only, ignoring other conditions")
	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var (
		threshold int64
		columns   []string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find equi-join blocking rules below a comparison threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.close(e.logger)

			svc := services.NewRuleSearchService(conn.exec, conn.store, conn.dialect, e.logger)
			results, err := svc.FindRulesBelowThreshold(ctx, e.settings.Linkage.ForAnalysis(), columns, threshold)
			if err != nil {
				return err
			}
			report.WriteSearch(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().Int64Var(&threshold, "threshold", 1_000_000, "maximum comparisons per rule")
	cmd.Flags().StringSliceVar(&columns, "column", nil, "column expression to combine (repeatable; default: every input column)")
	return cmd
}

func newMaterializeCommand(opts *rootOptions) *cobra.Command {
	var keepSupporting bool
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Persist the blocked pairs as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := e.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.close(e.logger)

			exploded := services.NewExplodedPairsService(conn.exec, conn.store, e.logger)
			svc := services.NewBlockedPairsService(conn.store, exploded, conn.dialect, e.logger)
			run, err := svc.Generate(ctx, e.settings.Linkage, e.settings.Rules)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if keepSupporting {
				for _, h := range run.Supporting {
					fmt.Fprintf(out, "%s\t%s\n", h.OutputName, h.PhysicalName)
				}
			} else if err := exploded.ReleaseAll(ctx, run.Supporting); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\n", run.Pairs.OutputName, run.Pairs.PhysicalName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepSupporting, "keep-supporting", false, "keep the concatenated input and exploded id pair tables")
	return cmd
}
