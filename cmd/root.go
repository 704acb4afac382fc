// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/planforge-cli/api/schemas"
	"github.com/xkilldash9x/planforge-cli/internal/config"
	"github.com/xkilldash9x/planforge-cli/internal/guardrail"
	"github.com/xkilldash9x/planforge-cli/internal/llmclient"
	"github.com/xkilldash9x/planforge-cli/internal/observability"
	"github.com/xkilldash9x/planforge-cli/internal/orchestrator"
	"github.com/xkilldash9x/planforge-cli/internal/planner"
	"github.com/xkilldash9x/planforge-cli/internal/render"
	"github.com/xkilldash9x/planforge-cli/internal/reviewer"
	"github.com/xkilldash9x/planforge-cli/internal/session"
	"github.com/xkilldash9x/planforge-cli/internal/viability"
)

var (
	cfgFile string
	appCfg  *config.Config
)

// NewRootCommand builds a fresh command tree. A new instance per invocation
// keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "planforge",
		Short:   "PlanForge turns a task description into a reviewed, executable work plan.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeConfig()
			if err != nil {
				// Initialize a fallback logger so the failure is at least visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "planforge"})
				return err
			}
			appCfg = cfg

			observability.InitializeLogger(cfg.LoggerCfg)
			observability.GetLogger().Info("Starting planforge", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.planforge/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Execute runs the command tree under the given context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment and validates the
// result.
func initializeConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".planforge"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PLANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}

	return config.NewConfigFromViper(v)
}

// app bundles the wired collaborators a command needs.
type app struct {
	orch     *orchestrator.Orchestrator
	renderer *render.Renderer
	store    schemas.SessionStore
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		observability.GetLogger().Warn("Failed to close session store", zap.Error(err))
	}
}

// buildApp wires the orchestrator stack from the loaded configuration.
func buildApp(ctx context.Context) (*app, error) {
	logger := observability.GetLogger()

	store, err := buildStore(ctx, appCfg.StoreCfg, logger)
	if err != nil {
		return nil, err
	}

	router, err := llmclient.NewRouter(appCfg.LLMCfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build LLM clients: %w", err)
	}

	validator := viability.New(viability.OSFileExists(appCfg.OrchestratorCfg.WorkspaceRoot), logger)
	guards := guardrail.New(appCfg.GuardrailsCfg, logger)
	gen := planner.New(router, logger)
	rev := reviewer.New(router, appCfg.GuardrailsCfg.ApproveThreshold, logger)

	orch, err := orchestrator.New(store, gen, rev, validator, guards, appCfg.OrchestratorCfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	renderer, err := render.New(appCfg.OutputCfg.Dir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{orch: orch, renderer: renderer, store: store}, nil
}

func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.SessionStore, error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return session.NewPostgresStore(ctx, pool, logger)
	default:
		return session.NewFileStore(cfg.Dir, logger)
	}
}

// reportOutcome prints the session's ending to the user and renders the plan
// when one was produced.
func reportOutcome(cmd *cobra.Command, a *app, s *schemas.Session) error {
	switch s.State {
	case schemas.StateApproved, schemas.StateBestEffort:
		path, err := a.renderer.WritePlan(s)
		if err != nil {
			return err
		}
		label := "Plan approved"
		if s.State == schemas.StateBestEffort {
			label = "Iteration ceiling reached; best-scoring plan emitted"
		}
		cmd.Printf("%s after %d iteration(s). Written to %s\n", label, s.Guardrails.Iterations, path)
	case schemas.StateNeedsInput:
		cmd.Printf("Session %s needs input:\n  %s\nAnswer with: planforge resume %s \"<answer>\"\n",
			s.ID, s.StateDetail, s.ID)
	case schemas.StateMaxTurns:
		cmd.Printf("Session %s hit the iteration ceiling without producing a usable plan.\n", s.ID)
	case schemas.StateHardStopped:
		cmd.Printf("Session %s was hard-stopped: %s\n", s.ID, s.StateDetail)
	case schemas.StateFailed:
		cmd.Printf("Session %s failed: %s\n", s.ID, s.FailureError)
	default:
		cmd.Printf("Session %s is %s\n", s.ID, s.State)
	}
	return nil
}
