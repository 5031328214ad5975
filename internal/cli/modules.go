package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/courseloom/amvc/internal/store"
	"github.com/courseloom/amvc/internal/vcs"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	moduleType        string
	moduleTitle       string
	moduleDescription string
	moduleStatus      string
	moduleContent     string
	moduleMessage     string
	moduleBranch      string
	moduleCommit      string
	moduleForkSlug    string
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Create, inspect, and update activity modules",
}

var moduleCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Create a new module with its initial version",
	Long: `Create a module with its default branch, initial commit and head
version.

Examples:
  amvc module create intro-quiz --title "Intro Quiz" --type quiz
  amvc module create lesson-1 --title "Lesson 1" --type lesson --content '{"body":"..."}'`,
	Args: cobra.ExactArgs(1),
	Run:  runModuleCreate,
}

var moduleShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show a module's head (or a pinned commit) on a branch",
	Args:  cobra.ExactArgs(1),
	Run:   runModuleShow,
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules, optionally filtered",
	Run:   runModuleList,
}

var moduleUpdateCmd = &cobra.Command{
	Use:   "update <slug>",
	Short: "Record a new version of a module on a branch",
	Long: `Record a new version. Content given with --content is shallow-merged
over the current head: top-level fields you provide replace the prior
ones, fields you omit are preserved.`,
	Args: cobra.ExactArgs(1),
	Run:  runModuleUpdate,
}

var moduleDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a module and its entire version history",
	Args:  cobra.ExactArgs(1),
	Run:   runModuleDelete,
}

var moduleForkCmd = &cobra.Command{
	Use:   "fork <slug>",
	Short: "Fork a module into a new module sharing its lineage",
	Args:  cobra.ExactArgs(1),
	Run:   runModuleFork,
}

var moduleLogCmd = &cobra.Command{
	Use:   "log <slug>",
	Short: "Show a module's version history on a branch",
	Args:  cobra.ExactArgs(1),
	Run:   runModuleLog,
}

func init() {
	moduleCmd.AddCommand(moduleCreateCmd)
	moduleCmd.AddCommand(moduleShowCmd)
	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleUpdateCmd)
	moduleCmd.AddCommand(moduleDeleteCmd)
	moduleCmd.AddCommand(moduleForkCmd)
	moduleCmd.AddCommand(moduleLogCmd)

	cf := moduleCreateCmd.Flags()
	cf.StringVar(&moduleTitle, "title", "", "Module title (required)")
	cf.StringVar(&moduleType, "type", "", "Module type, e.g. lesson, quiz, assignment (required)")
	cf.StringVar(&moduleDescription, "description", "", "Module description")
	cf.StringVar(&moduleStatus, "status", "", "Module status (default draft)")
	cf.StringVar(&moduleContent, "content", "", "Content document as JSON")
	cf.StringVarP(&moduleMessage, "message", "m", "", "Commit message")

	moduleShowCmd.Flags().StringVar(&moduleBranch, "branch", "", "Branch to read (default main)")
	moduleShowCmd.Flags().StringVar(&moduleCommit, "commit", "", "Pin the read to a commit hash")

	lf := moduleListCmd.Flags()
	lf.StringVar(&moduleTitle, "title", "", "Filter by title substring")
	lf.StringVar(&moduleType, "type", "", "Filter by type")
	lf.StringVar(&moduleStatus, "status", "", "Filter by status")
	lf.StringVar(&moduleBranch, "branch", "", "Branch to resolve heads on (default main)")

	uf := moduleUpdateCmd.Flags()
	uf.StringVar(&moduleBranch, "branch", "", "Branch to write on (default main)")
	uf.StringVar(&moduleTitle, "title", "", "New title")
	uf.StringVar(&moduleDescription, "description", "", "New description")
	uf.StringVar(&moduleStatus, "status", "", "New status")
	uf.StringVar(&moduleContent, "content", "", "Content patch as JSON, shallow-merged over the head")
	uf.StringVarP(&moduleMessage, "message", "m", "", "Commit message")

	ff := moduleForkCmd.Flags()
	ff.StringVar(&moduleForkSlug, "as", "", "Slug for the new module (required)")
	ff.StringVar(&moduleTitle, "title", "", "Title for the new module (default: source title)")
	ff.StringVar(&moduleBranch, "branch", "", "Branch to fork from (default main)")

	moduleLogCmd.Flags().StringVar(&moduleBranch, "branch", "", "Branch to walk (default main)")
}

func runModuleCreate(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	rev, err := vcs.CreateModule(context.Background(), c.Store, vcs.CreateModuleArgs{
		Slug:        args[0],
		Title:       moduleTitle,
		Description: moduleDescription,
		Type:        moduleType,
		Status:      moduleStatus,
		Content:     rawContent(moduleContent),
		Message:     moduleMessage,
		ActorID:     actorFlag,
	})
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Created module '%s'\n", rev.Module.Slug)
	fmt.Printf("  branch %s, commit %s\n", rev.Branch.Name, rev.Commit.ShortHash())
}

func runModuleShow(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	snap, err := vcs.GetModule(context.Background(), c.Store,
		vcs.ModuleRef{Slug: args[0]}, moduleBranch, moduleCommit)
	if err != nil {
		exitError("%v", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("%s", snap.Module.Slug)
	fmt.Printf("  [%s/%s]\n", snap.Module.Type, snap.Module.Status)
	fmt.Printf("  Title:  %s\n", snap.Version.Title)
	fmt.Printf("  Branch: %s\n", snap.Branch.Name)
	if snap.Version.Description != "" {
		fmt.Printf("  Description: %s\n", snap.Version.Description)
	}
	if len(snap.Version.Content) > 0 {
		fmt.Println()
		out, err := json.MarshalIndent(json.RawMessage(snap.Version.Content), "", "  ")
		if err == nil {
			os.Stdout.Write(out)
			fmt.Println()
		}
	}
}

func runModuleList(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	listings, total, err := vcs.SearchModules(context.Background(), c.Store, vcs.SearchFilter{
		TitleContains: moduleTitle,
		Type:          moduleType,
		Status:        moduleStatus,
	}, moduleBranch, store.Page{Limit: 100})
	if err != nil {
		exitError("%v", err)
	}

	if total == 0 {
		fmt.Println("No modules.")
		return
	}

	fmt.Printf("  %-24s  %-12s  %-10s  %s\n", "SLUG", "TYPE", "STATUS", "TITLE")
	for _, l := range listings {
		title := l.Module.Title
		if l.Version != nil {
			title = l.Version.Title
		}
		fmt.Printf("  %-24s  %-12s  %-10s  %s\n", l.Module.Slug, l.Module.Type, l.Module.Status, title)
	}
	if total > len(listings) {
		fmt.Printf("  ... and %d more\n", total-len(listings))
	}
}

func runModuleUpdate(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	upd := vcs.UpdateModuleArgs{
		Branch:  moduleBranch,
		Content: rawContent(moduleContent),
		Message: moduleMessage,
		ActorID: actorFlag,
	}
	if cmd.Flags().Changed("title") {
		upd.Title = &moduleTitle
	}
	if cmd.Flags().Changed("description") {
		upd.Description = &moduleDescription
	}
	if cmd.Flags().Changed("status") {
		upd.Status = &moduleStatus
	}

	rev, err := vcs.UpdateModule(context.Background(), c.Store, args[0], upd)
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("[%s %s] %s\n", rev.Branch.Name, rev.Commit.ShortHash(), rev.Commit.Message)
}

func runModuleDelete(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	module, err := vcs.DeleteModule(context.Background(), c.Store, args[0])
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted module '%s' and its history\n", module.Slug)
}

func runModuleFork(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	rev, err := vcs.ForkModule(context.Background(), c.Store, args[0], vcs.ForkModuleArgs{
		Slug:    moduleForkSlug,
		Title:   moduleTitle,
		Branch:  moduleBranch,
		ActorID: actorFlag,
	})
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Forked '%s' into '%s'\n", args[0], rev.Module.Slug)
	fmt.Printf("  shared lineage %d, head at %s\n", rev.Module.Origin(), rev.Commit.ShortHash())
}

func runModuleLog(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	entries, err := vcs.ModuleHistory(context.Background(), c.Store, args[0], moduleBranch)
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	// Newest first, like git log.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		yellow.Printf("commit %s", e.Commit.Hash)
		if e.Commit.IsMerge {
			fmt.Print("  (merge)")
		}
		if e.Version.IsHead {
			fmt.Print("  (HEAD)")
		}
		fmt.Println()
		fmt.Printf("Author: user %d\n", e.Commit.AuthorID)
		fmt.Printf("Date:   %s\n", e.Commit.CommittedAt.Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("\n    %s\n\n", e.Commit.Message)
	}
}

// rawContent converts a --content flag value to JSON, or nil when unset.
func rawContent(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
