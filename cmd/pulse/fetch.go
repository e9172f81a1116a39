package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/azure/discussion-pulse/internal/models"
)

var (
	fetchSubreddits  []string
	fetchMaxPosts    int
	fetchComments    bool
	fetchMaxComments int
	fetchForce       bool
	fetchRole        string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <keyword>",
	Short: "Run one fetch cycle for a keyword and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringSliceVarP(&fetchSubreddits, "subreddit", "s", nil, "Subreddits to search (repeatable)")
	fetchCmd.Flags().IntVar(&fetchMaxPosts, "max-posts", 0, "Maximum posts to keep (default from config)")
	fetchCmd.Flags().BoolVar(&fetchComments, "comments", true, "Fetch and enrich comments")
	fetchCmd.Flags().IntVar(&fetchMaxComments, "max-comments", 0, "Maximum comments per post (default from config)")
	fetchCmd.Flags().BoolVarP(&fetchForce, "force", "f", false, "Fetch even when recent data exists")
	fetchCmd.Flags().StringVar(&fetchRole, "role", models.RoleGeneral, "Caller role selecting the relevance policy")
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.monitor.RunCycle(cmd.Context(), models.FetchRequest{
		Keyword:            args[0],
		Subreddits:         fetchSubreddits,
		MaxPosts:           fetchMaxPosts,
		IncludeComments:    fetchComments,
		MaxCommentsPerPost: fetchMaxComments,
		ForceRefresh:       fetchForce,
		CallerRole:         fetchRole,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("fetch cycle for %q failed", result.Keyword)
	}
	return nil
}
