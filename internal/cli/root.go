// Package cli implements the command-line interface for amvc.
package cli

import (
	"fmt"
	"os"

	"github.com/courseloom/amvc/internal/config"
	"github.com/courseloom/amvc/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Store  *store.SQLiteStore
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext initializes config and store
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	return &cmdContext{Config: cfg, Store: st}
}

// initContextWithMigrations initializes config, store, and runs migrations
func initContextWithMigrations() *cmdContext {
	c := initContext()

	if err := c.Store.Initialize(); err != nil {
		c.Close()
		exitError("failed to initialize store: %v", err)
	}
	if err := c.Store.RunMigrations(); err != nil {
		c.Close()
		exitError("failed to run migrations: %v", err)
	}

	return c
}

var actorFlag int64

var rootCmd = &cobra.Command{
	Use:   "amvc",
	Short: "Activity Module Version Control",
	Long: `amvc is a git-like engine for versioning LMS activity modules.
Every change to a module is a commit on a branch; modules fork into
lineages, diverge, and come back together through merge requests.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&actorFlag, "actor", 1, "Acting user id recorded on writes")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(moduleCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(mrCmd)
	rootCmd.AddCommand(tokensCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
