package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"codewatch/internal/config"
	"codewatch/internal/dispatch"
	"codewatch/internal/observer"
	"codewatch/internal/scheduler"
	"codewatch/internal/session"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Focus flags
	focusFile   string
	focusLine   int
	focusColumn int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "codewatch",
	Short: "codewatch - background observation engine for editing sessions",
	Long: `codewatch periodically inspects a live editing session, asks a language
model whether a suggestion is warranted, and - if confidence clears the
configured threshold - surfaces it through a notification or speech channel,
without ever blocking the session it observes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		cfg.OutputPaths = []string{"stderr"}

		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the observer daemon against the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		obs, sess, err := buildObserver(true)
		if err != nil {
			return err
		}
		defer obs.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("observer running",
			zap.String("workspace", workspace),
			zap.Uint64("interval_seconds", obs.Settings().IntervalSeconds))

		// Poll the repository for conflicts so merge trouble raises a
		// priority trigger even with no editor attached.
		go pollGitConflicts(ctx, sess, obs)

		return obs.Run(ctx)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single observation cycle and print the decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		obs, _, err := buildObserver(false)
		if err != nil {
			return err
		}
		defer obs.Shutdown()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		decision, err := obs.TriggerNow(ctx, scheduler.TriggerTimer)
		if err != nil {
			logger.Warn("cycle completed with provider error", zap.Error(err))
		}

		if !decision.ShouldSpeak {
			fmt.Println("nothing to say")
			return nil
		}
		fmt.Printf("suggestion (confidence %.2f): %s\n", decision.Confidence, decision.Suggestion)
		if decision.Reasoning != "" {
			fmt.Printf("reasoning: %s\n", decision.Reasoning)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		var layers []config.Layer
		if configPath != "" {
			layer, err := config.LoadLayer(configPath)
			if err != nil {
				return err
			}
			layers = append(layers, layer)
		}
		st := config.Resolve(layers...)
		st.Provider.APIKey = redact(st.Provider.APIKey)

		out, err := yaml.Marshal(st)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func buildObserver(watchConfig bool) (*observer.Observer, *session.LocalSession, error) {
	sess := session.NewLocalSession(workspace)
	if focusFile != "" {
		sess.SetFocus(focusFile, focusLine, focusColumn)
	}

	obs, err := observer.Initialize(observer.Options{
		ConfigPath:  configPath,
		Workspace:   workspace,
		Session:     sess,
		Sink:        pickSink(),
		WatchConfig: watchConfig,
	})
	if err != nil {
		return nil, nil, err
	}
	return obs, sess, nil
}

func pickSink() dispatch.Sink {
	// Headless environments get the console sink; a desktop gets native
	// notifications.
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" && os.Getenv("TERM_PROGRAM") == "" {
		return dispatch.ConsoleSink{}
	}
	return dispatch.NewExecSink()
}

func pollGitConflicts(ctx context.Context, sess *session.LocalSession, obs *observer.Observer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	wasConflicted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conflicted := sess.HasConflicts()
			if conflicted && !wasConflicted {
				logger.Debug("git conflict detected, raising trigger")
				obs.Trigger(scheduler.TriggerOnGitConflict)
			}
			wasConflicted = conflicted
		}
	}
}

func redact(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "****"
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to observer config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "project root to observe")

	for _, cmd := range []*cobra.Command{watchCmd, onceCmd} {
		cmd.Flags().StringVar(&focusFile, "file", "", "file under observation")
		cmd.Flags().IntVar(&focusLine, "line", 1, "cursor line (1-based)")
		cmd.Flags().IntVar(&focusColumn, "column", 1, "cursor column")
	}

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
