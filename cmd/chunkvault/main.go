// chunkvault stores files as deduplicated, compressed chunks inside a
// folder whose disk usage never exceeds a fixed size.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/chunkvault/internal/config"
	"github.com/tunnelmesh/chunkvault/internal/dedup"
	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
	"github.com/tunnelmesh/chunkvault/pkg/bytesize"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cli holds the persistent flag values shared by every command.
type cli struct {
	configPath  string
	root        string
	size        bytesize.Size
	logLevel    string
	dumpMetrics bool

	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:          "chunkvault",
		Short:        "Quota-bounded deduplicating chunk store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !c.dumpMetrics {
				return nil
			}
			families, err := prometheus.DefaultGatherer.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}
			return writeMetrics(cmd.ErrOrStderr(), families)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&c.root, "root", "", "store folder (overrides config)")
	rootCmd.PersistentFlags().Var(&c.size, "size", "store size, e.g. 10GB (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&c.logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&c.dumpMetrics, "metrics", false, "print metrics to stderr on exit")

	rootCmd.AddCommand(
		newUsageCmd(c),
		newPutCmd(c),
		newGetCmd(c),
		newCatRangeCmd(c),
		newRmCmd(c),
		newInspectCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "chunkvault %s (%s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)

	return rootCmd
}

// setup loads the configuration, applies flag overrides and configures
// logging.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if c.root != "" {
		cfg.Root = c.root
	}
	if cmd.Flags().Changed("size") {
		cfg.Size = c.size
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	c.cfg = cfg
	return nil
}

func setupLogging(level string, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

// openStore validates the configuration and returns a ready store.
func (c *cli) openStore(ctx context.Context) (*store.Store, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	retry, err := c.cfg.StoreRetry()
	if err != nil {
		return nil, err
	}

	st, err := store.New(c.cfg.Root, c.cfg.Size.Bytes(),
		store.WithLogger(log.Logger),
		store.WithShardDepth(c.cfg.ShardDepth),
		store.WithRetry(retry),
		store.WithMetrics(store.InitMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		return nil, err
	}
	if err := st.Ready(ctx); err != nil {
		return nil, fmt.Errorf("prepare store %s: %w", c.cfg.Root, err)
	}
	return st, nil
}

// openFile opens a dedup file over st using the configured chunking.
func (c *cli) openFile(ctx context.Context, st *store.Store, m *manifest.Manifest) (*dedup.File, error) {
	return dedup.Open(ctx, st, m,
		dedup.WithLogger(log.Logger),
		dedup.WithParams(c.cfg.ChunkParams()),
		dedup.WithCacheSize(c.cfg.CacheChunks),
	)
}

func readManifest(path string) (manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := manifest.Unmarshal(data)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

func writeManifest(path string, m manifest.Manifest) error {
	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeMetrics(w io.Writer, families []*dto.MetricFamily) error {
	var errs []error
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
