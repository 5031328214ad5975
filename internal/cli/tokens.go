package cli

import (
	"fmt"

	"github.com/courseloom/amvc/internal/server"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	tokenDesc       string
	tokenPermission string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage API tokens",
	Long:  "Commands for managing bearer tokens used by the amvc HTTP API.",
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API token",
	Run:   runTokensCreate,
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API tokens",
	Run:   runTokensList,
}

var tokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an API token",
	Args:  cobra.ExactArgs(1),
	Run:   runTokensDelete,
}

func init() {
	tokensCmd.AddCommand(tokensCreateCmd)
	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensDeleteCmd)

	tokensCreateCmd.Flags().StringVar(&tokenDesc, "desc", "", "Token description")
	tokensCreateCmd.Flags().StringVar(&tokenPermission, "permission", "rw", "Permission level: ro or rw")
}

// openTokenStore resolves the workspace and opens the token database.
func openTokenStore() *server.BoltTokenStore {
	c := initContext()
	c.Close() // only the config is needed here

	tokens, err := server.NewBoltTokenStore(c.Config.TokenDBPath())
	if err != nil {
		exitError("failed to open token store: %v", err)
	}
	return tokens
}

func runTokensCreate(cmd *cobra.Command, args []string) {
	tokens := openTokenStore()
	defer tokens.Close()

	raw, info, err := tokens.CreateToken(tokenDesc, tokenPermission)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", info.ID)
	fmt.Printf("  Description: %s\n", info.Desc)
	fmt.Printf("  Permission:  %s\n", info.Permission)
	fmt.Println()
	green.Printf("Token: %s\n", raw)
	yellow.Println("Save this token — it will not be shown again.")
}

func runTokensList(cmd *cobra.Command, args []string) {
	tokens := openTokenStore()
	defer tokens.Close()

	list, err := tokens.ListTokens()
	if err != nil {
		exitError("%v", err)
	}

	if len(list) == 0 {
		return
	}

	fmt.Printf("  %-36s  %-24s  %-10s  %s\n", "ID", "Description", "Permission", "Created")
	for _, t := range list {
		fmt.Printf("  %-36s  %-24s  %-10s  %s\n", t.ID, t.Desc, t.Permission, t.CreatedAt)
	}
}

func runTokensDelete(cmd *cobra.Command, args []string) {
	tokens := openTokenStore()
	defer tokens.Close()

	if err := tokens.DeleteToken(args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted token '%s'\n", args[0])
}
