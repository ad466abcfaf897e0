package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/warp/internal/config"
	"github.com/rohankatakam/warp/internal/objstore"
)

// Exit codes per the CLI surface: OK=0, USAGE=2, INTERNAL=1.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitUsage    = 2
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	repoDir  string
	graph    string
	jsonOut  bool
	cfgFile  string
	verbose  bool

	logger *logrus.Logger
	cfg    *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// usageError marks a cobra/flag-level failure so main can exit with
// ExitUsage instead of the generic ExitInternal.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ue *usageError
	if ok := asUsageError(err, &ue); ok {
		return ExitUsage
	}
	return ExitInternal
}

func asUsageError(err error, target **usageError) bool {
	for err != nil {
		if ue, ok := err.(*usageError); ok {
			*target = ue
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var rootCmd = &cobra.Command{
	Use:   "warp",
	Short: "warp - convergent CRDT graph store, local audit and index tooling",
	Long: `warp operates the core CRDT graph engine: a content-addressed,
multi-writer graph store with a signed trust chain gating sync, and a
bitmap-backed neighbor index for O(1) adjacency queries.

This binary exercises that engine for local operation only: chain/signature
audit and sampled index cross-checking. Writing and sync are library
operations, embedded by a host process.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: persistentPreRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "object store directory")
	rootCmd.PersistentFlags().StringVar(&graph, "graph", "default", "graph name")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .warp/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.SetVersionTemplate(`warp {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})

	rootCmd.AddCommand(verifyAuditCmd)
	rootCmd.AddCommand(verifyIndexCmd)
}

func persistentPreRun(cmd *cobra.Command, args []string) error {
	logger = logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Warn("failed to load config, using defaults")
		cfg = config.Default()
	}
	if graph != "" {
		cfg.Graph = graph
	}
	return nil
}

// openStore opens the bbolt-backed object store at <repoDir>/.warp/<graph>.bolt.
func openStore() (*objstore.BoltStore, objstore.RefLayout, error) {
	dir := filepath.Join(repoDir, ".warp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, objstore.RefLayout{}, &usageError{fmt.Errorf("cannot create store directory %s: %w", dir, err)}
	}
	path := filepath.Join(dir, cfg.Graph+".bolt")
	store, err := objstore.OpenBoltStore(path)
	if err != nil {
		return nil, objstore.RefLayout{}, err
	}
	return store, objstore.RefLayout{Graph: cfg.Graph}, nil
}
