package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/courseloom/amvc/internal/vcs"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	branchFrom        string
	branchDescription string
	branchMergeFrom   string
	branchMergeTo     string
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage a lineage's branches",
	Long: `Manage the branches of a module lineage. A lineage is identified by
its origin id: the id of the root module every fork descends from.

Examples:
  amvc branch list 3
  amvc branch create 3 review --from main
  amvc branch delete 3 review
  amvc branch merge 3 --from review --to main`,
}

var branchListCmd = &cobra.Command{
	Use:   "list <origin>",
	Short: "List a lineage's branches",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchList,
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <origin> <name>",
	Short: "Fork a new branch off an existing one",
	Args:  cobra.ExactArgs(2),
	Run:   runBranchCreate,
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <origin> <name>",
	Short: "Delete a non-default branch and its versions",
	Args:  cobra.ExactArgs(2),
	Run:   runBranchDelete,
}

var branchMergeCmd = &cobra.Command{
	Use:   "merge <origin>",
	Short: "Merge every module head from one branch into another",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchMerge,
}

func init() {
	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchDeleteCmd)
	branchCmd.AddCommand(branchMergeCmd)

	branchCreateCmd.Flags().StringVar(&branchFrom, "from", "", "Source branch to fork from (default main)")
	branchCreateCmd.Flags().StringVar(&branchDescription, "description", "", "Branch description")

	branchMergeCmd.Flags().StringVar(&branchMergeFrom, "from", "", "Source branch (required)")
	branchMergeCmd.Flags().StringVar(&branchMergeTo, "to", "", "Target branch (required)")
}

func parseOrigin(arg string) int64 {
	origin, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || origin <= 0 {
		exitError("invalid origin id %q", arg)
	}
	return origin
}

func runBranchList(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	branches, err := vcs.ListBranches(context.Background(), c.Store, parseOrigin(args[0]))
	if err != nil {
		exitError("%v", err)
	}

	if len(branches) == 0 {
		fmt.Println("No branches yet.")
		return
	}

	green := color.New(color.FgGreen)
	for _, branch := range branches {
		if branch.IsDefault {
			green.Printf("* %s\n", branch.Name)
		} else {
			fmt.Printf("  %s\n", branch.Name)
		}
	}
}

func runBranchCreate(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	result, err := vcs.CreateBranch(context.Background(), c.Store,
		parseOrigin(args[0]), args[1], branchFrom, actorFlag, branchDescription)
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Created branch '%s' from '%s' (%d module heads copied)\n",
		result.Branch.Name, result.SourceBranch.Name, result.CopiedVersions)
}

func runBranchDelete(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	branch, err := vcs.DeleteBranch(context.Background(), c.Store, parseOrigin(args[0]), args[1])
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted branch '%s'\n", branch.Name)
}

func runBranchMerge(cmd *cobra.Command, args []string) {
	if branchMergeFrom == "" || branchMergeTo == "" {
		exitError("--from and --to are required")
	}

	c := initContextWithMigrations()
	defer c.Close()

	result, err := vcs.MergeBranches(context.Background(), c.Store,
		parseOrigin(args[0]), branchMergeFrom, branchMergeTo, actorFlag)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Merged '%s' into '%s'\n", branchMergeFrom, branchMergeTo)
	fmt.Printf("  copied %d, fast-forwarded %d, merged %d, skipped %d\n",
		result.Copied, result.FastForwarded, result.Merged, result.Skipped)
}
