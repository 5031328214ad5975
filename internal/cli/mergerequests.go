package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/courseloom/amvc/internal/models"
	"github.com/courseloom/amvc/internal/store"
	"github.com/courseloom/amvc/internal/vcs"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	mrTitle        string
	mrDescription  string
	mrFromModule   int64
	mrToModule     int64
	mrReason       string
	mrResolved     string
	mrStopComments bool
	mrStatus       string
)

var mrCmd = &cobra.Command{
	Use:   "mr",
	Short: "Manage merge requests between modules",
	Long: `Open, review, and resolve merge requests. A merge request proposes
folding one module's work back into another module of the same lineage;
accepting it runs the merge engine on the lineage's default branch.`,
}

var mrCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a merge request",
	Run:   runMRCreate,
}

var mrShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a merge request",
	Args:  cobra.ExactArgs(1),
	Run:   runMRShow,
}

var mrListCmd = &cobra.Command{
	Use:   "list <module-id>",
	Short: "List merge requests touching a module",
	Args:  cobra.ExactArgs(1),
	Run:   runMRList,
}

var mrAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Accept a merge request and run the merge",
	Long: `Accept an open merge request. When the two modules have genuinely
diverged you must supply the reconciled content with --resolved; the
engine will not pick a side for you.`,
	Args: cobra.ExactArgs(1),
	Run:  runMRAccept,
}

var mrRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject an open merge request",
	Args:  cobra.ExactArgs(1),
	Run:   runMRReject,
}

var mrCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close an open merge request without merging",
	Args:  cobra.ExactArgs(1),
	Run:   runMRClose,
}

var mrCommentCmd = &cobra.Command{
	Use:   "comment <id> <body>",
	Short: "Comment on a merge request",
	Args:  cobra.ExactArgs(2),
	Run:   runMRComment,
}

var mrCommentsCmd = &cobra.Command{
	Use:   "comments <id>",
	Short: "List a merge request's comments",
	Args:  cobra.ExactArgs(1),
	Run:   runMRComments,
}

func init() {
	mrCmd.AddCommand(mrCreateCmd)
	mrCmd.AddCommand(mrShowCmd)
	mrCmd.AddCommand(mrListCmd)
	mrCmd.AddCommand(mrAcceptCmd)
	mrCmd.AddCommand(mrRejectCmd)
	mrCmd.AddCommand(mrCloseCmd)
	mrCmd.AddCommand(mrCommentCmd)
	mrCmd.AddCommand(mrCommentsCmd)

	cf := mrCreateCmd.Flags()
	cf.StringVar(&mrTitle, "title", "", "Request title (required)")
	cf.StringVar(&mrDescription, "description", "", "Request description")
	cf.Int64Var(&mrFromModule, "from", 0, "Source module id (required)")
	cf.Int64Var(&mrToModule, "to", 0, "Target module id (required)")

	mrListCmd.Flags().StringVar(&mrStatus, "status", "", "Filter by status (open|merged|rejected|closed)")

	mrAcceptCmd.Flags().StringVar(&mrReason, "reason", "", "Resolution note")
	mrAcceptCmd.Flags().StringVar(&mrResolved, "resolved", "", "Reconciled content as JSON, required on divergence")

	for _, cmd := range []*cobra.Command{mrRejectCmd, mrCloseCmd} {
		cmd.Flags().StringVar(&mrReason, "reason", "", "Resolution note")
		cmd.Flags().BoolVar(&mrStopComments, "stop-comments", false, "Disable further comments")
	}
}

func parseMRID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		exitError("invalid merge request id %q", arg)
	}
	return id
}

func printMR(mr *models.MergeRequest) {
	statusColor := color.New(color.FgYellow)
	switch mr.Status {
	case models.MergeRequestMerged:
		statusColor = color.New(color.FgGreen)
	case models.MergeRequestRejected:
		statusColor = color.New(color.FgRed)
	case models.MergeRequestClosed:
		statusColor = color.New(color.Faint)
	}

	fmt.Printf("#%d %s  ", mr.ID, mr.Title)
	statusColor.Printf("[%s]\n", mr.Status)
	fmt.Printf("  module %d -> module %d\n", mr.FromModuleID, mr.ToModuleID)
	if mr.Description != "" {
		fmt.Printf("  %s\n", mr.Description)
	}
	if mr.Reason != "" {
		fmt.Printf("  Reason: %s\n", mr.Reason)
	}
	if !mr.AllowComments {
		fmt.Println("  Comments disabled.")
	}
}

func runMRCreate(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	mr, err := vcs.CreateMergeRequest(context.Background(), c.Store, vcs.CreateMergeRequestArgs{
		Title:        mrTitle,
		Description:  mrDescription,
		FromModuleID: mrFromModule,
		ToModuleID:   mrToModule,
		ActorID:      actorFlag,
	})
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Opened merge request #%d\n", mr.ID)
}

func runMRShow(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	mr, err := vcs.GetMergeRequest(context.Background(), c.Store, parseMRID(args[0]))
	if err != nil {
		exitError("%v", err)
	}
	printMR(mr)
}

func runMRList(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	moduleID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || moduleID <= 0 {
		exitError("invalid module id %q", args[0])
	}

	requests, err := vcs.ListMergeRequestsByModule(context.Background(), c.Store,
		moduleID, models.MergeRequestStatus(mrStatus), store.Page{Limit: 100})
	if err != nil {
		exitError("%v", err)
	}

	if len(requests) == 0 {
		fmt.Println("No merge requests.")
		return
	}
	for _, mr := range requests {
		fmt.Printf("  #%-5d %-8s %d -> %d  %s\n", mr.ID, mr.Status, mr.FromModuleID, mr.ToModuleID, mr.Title)
	}
}

func runMRAccept(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	result, err := vcs.AcceptMergeRequest(context.Background(), c.Store,
		parseMRID(args[0]), actorFlag, mrReason, rawContent(mrResolved))
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Merged request #%d\n", result.Request.ID)
	fmt.Printf("  copied %d, fast-forwarded %d, merged %d, skipped %d\n",
		result.Merge.Copied, result.Merge.FastForwarded, result.Merge.Merged, result.Merge.Skipped)
}

func runMRReject(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	mr, err := vcs.RejectMergeRequest(context.Background(), c.Store,
		parseMRID(args[0]), actorFlag, mrReason, mrStopComments)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Rejected merge request #%d\n", mr.ID)
}

func runMRClose(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	mr, err := vcs.CloseMergeRequest(context.Background(), c.Store,
		parseMRID(args[0]), actorFlag, mrReason, mrStopComments)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Closed merge request #%d\n", mr.ID)
}

func runMRComment(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	comment, err := vcs.CommentMergeRequest(context.Background(), c.Store,
		parseMRID(args[0]), args[1], actorFlag)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Comment #%d added\n", comment.ID)
}

func runMRComments(cmd *cobra.Command, args []string) {
	c := initContextWithMigrations()
	defer c.Close()

	comments, err := vcs.ListMergeRequestComments(context.Background(), c.Store, parseMRID(args[0]))
	if err != nil {
		exitError("%v", err)
	}

	if len(comments) == 0 {
		fmt.Println("No comments.")
		return
	}
	for _, cm := range comments {
		fmt.Printf("  [%s] user %d: %s\n", cm.CreatedAt.Format("2006-01-02 15:04"), cm.CreatedBy, cm.Body)
	}
}
