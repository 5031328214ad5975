package cli

import (
	"fmt"

	"github.com/courseloom/amvc/internal/config"
	"github.com/courseloom/amvc/internal/store"
	"github.com/spf13/cobra"
)

var initListenAddr string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new amvc workspace",
	Long: `Create a .amvc directory in the current directory with the module
database and default configuration.

Examples:
  amvc init
  amvc init --listen 0.0.0.0:8580`,
	Run: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initListenAddr, "listen", ":8580", "Default listen address for amvc serve")
}

func runInit(cmd *cobra.Command, args []string) {
	cfg, err := config.Initialize(initListenAddr)
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize store: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		exitError("failed to run migrations: %v", err)
	}

	fmt.Printf("Initialized empty amvc workspace in %s\n", cfg.Path())
}
