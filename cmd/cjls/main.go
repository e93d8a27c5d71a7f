// Package main implements the cjls binary: the Cangjie language server
// spoken over stdio, plus the small CLI surface editors launch it with.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cjls/internal/config"
	"cjls/internal/crash"
	"cjls/internal/logging"
	"cjls/internal/server"
	"cjls/internal/transport"
)

// Exit codes. IO errors get their own code so launchers can tell a broken
// pipe from a crash.
const (
	exitOK       = 0
	exitAbnormal = 1
	exitIOErr    = 3
)

var (
	flagTest               bool
	flagEnableLog          string
	flagLogPath            string
	flagCachePath          string
	flagDisableIncremental bool
	flagCrashReporter      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cjls",
	Short: "Cangjie language server",
	Long:  "cjls serves editor intelligence for Cangjie projects over LSP on stdin/stdout.",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().BoolVar(&flagTest, "test", false, "run in test mode (no background watchers)")
	rootCmd.Flags().StringVar(&flagEnableLog, "enable-log", "false", "enable file logging {true|false}")
	rootCmd.Flags().StringVar(&flagLogPath, "log-path", "", "directory for log files")
	rootCmd.Flags().StringVar(&flagCachePath, "cache-path", "", "directory for the index cache")
	rootCmd.Flags().BoolVar(&flagDisableIncremental, "disable-incremental-optimization", false,
		"always rebuild instead of serving cached ASTs")
	rootCmd.Flags().BoolVarP(&flagCrashReporter, "crash-reporter", "V", false, "enable the crash reporter")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if flagCachePath != "" {
		cfg.CachePath = flagCachePath
	}
	if flagLogPath != "" {
		cfg.Logging.Path = flagLogPath
	}
	cfg.Logging.Enabled = flagEnableLog == "true"
	cfg.DisableIncremental = cfg.DisableIncremental || flagDisableIncremental

	// Console logging rides zap on stderr; stdout belongs to the protocol.
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{"stderr"}
	if cfg.Logging.Enabled {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err = zapCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := logging.Initialize(cfg.LogDir(), cfg.Logging.Enabled, cfg.Logging.Level); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	defer logging.CloseAll()

	reporter := crash.New(cfg.CachePath, flagCrashReporter)
	defer reporter.Recover()

	logger.Info("cjls starting",
		zap.String("version", server.Version),
		zap.String("cache", cfg.CachePath),
		zap.Bool("test_mode", flagTest))

	srv := server.New(stdioStream{}, server.Options{
		CacheRoot:          cfg.CachePath,
		CompilerVersion:    compilerVersion(cfg),
		TestMode:           flagTest,
		DisableIncremental: cfg.DisableIncremental,
		GeneralPoolSize:    cfg.Pools.General,
		CompletionPoolSize: cfg.Pools.Completion,
		SignaturePoolSize:  cfg.Pools.Signature,
		ShutdownGrace:      cfg.ShutdownGrace,
	})

	result := srv.Run()
	switch result {
	case transport.NormalExit:
		logger.Info("clean exit")
		return nil
	case transport.IOErr:
		logger.Error("transport IO error")
		os.Exit(exitIOErr)
	default:
		logger.Warn("abnormal exit", zap.String("result", result.String()))
		os.Exit(exitAbnormal)
	}
	return nil
}

// compilerVersion resolves the toolchain version the index cache is keyed by.
func compilerVersion(cfg *config.Config) string {
	if v := os.Getenv("CANGJIE_COMPILER_VERSION"); v != "" {
		return v
	}
	if cfg.CangjiePath != "" {
		return "path:" + cfg.CangjiePath
	}
	return server.Version
}

// stdioStream adapts stdin/stdout to the transport's duplex contract.
type stdioStream struct{}

func (stdioStream) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioStream) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioStream) Close() error                { return nil }

var _ io.ReadWriteCloser = stdioStream{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitAbnormal)
	}
}
