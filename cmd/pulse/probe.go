package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/azure/discussion-pulse/internal/analysis"
)

var (
	probeKeyword   string
	probeSubreddit string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check connectivity to the feed, thread and AI endpoints",
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeKeyword, "keyword", "k", "renewable energy", "Keyword to search for")
	probeCmd.Flags().StringVarP(&probeSubreddit, "subreddit", "s", "energy", "Subreddit to search")
}

func runProbe(cmd *cobra.Command, args []string) error {
	fmt.Println("Discussion Pulse - connectivity probe")
	fmt.Println(strings.Repeat("-", 40))

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	source := newSource(cfg)

	fmt.Printf("Feed   r/%s %q... ", probeSubreddit, probeKeyword)
	posts := source.FetchPosts(ctx, probeKeyword, probeSubreddit, 5)
	if len(posts) == 0 {
		fmt.Println("FAILED (no posts, see logs)")
		return fmt.Errorf("feed probe returned no posts")
	}
	fmt.Printf("OK (%d posts)\n", len(posts))
	fmt.Printf("       sample: %q\n", posts[0].Title)

	fmt.Print("Thread ... ")
	thread := source.FetchThread(ctx, posts[0], 5)
	if !thread.Found {
		fmt.Println("FAILED (thread not found, see logs)")
	} else {
		fmt.Printf("OK (score %d, %d comments)\n", thread.PostScore, len(thread.Comments))
	}

	fmt.Print("AI     ... ")
	analyzer := newAnalyzer(cfg)
	if analyzer == nil {
		fmt.Println("DISABLED (set OPENAI_API_KEY and AI_ANALYSIS_ENABLED)")
		return nil
	}

	itemCtx, itemCancel := context.WithTimeout(ctx, cfg.AIItemTimeout)
	defer itemCancel()
	result, err := analyzer.Analyze(itemCtx, analysis.PostInput(posts[0], nil))
	if err != nil {
		fmt.Printf("FAILED (%v)\n", err)
		return err
	}
	fmt.Printf("OK (%s sentiment, relevancy %.0f)\n", result.Sentiment.Classification, result.Relevancy.Score)

	fallback := analysis.Fallback(analysis.PostInput(posts[0], nil))
	if fallback.Sentiment.Classification != result.Sentiment.Classification {
		fmt.Printf("       fallback would say %s\n", fallback.Sentiment.Classification)
	}
	return nil
}
