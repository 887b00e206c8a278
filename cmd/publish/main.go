package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/blackmichael/social-scheduler/internal/app"
	"github.com/blackmichael/social-scheduler/internal/config"
	"github.com/blackmichael/social-scheduler/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		text     string
		subject  string
		postID   string
		platform string
		token    string
		due      bool
	)

	flag.StringVar(&text, "text", "", "Publish this text as a Bluesky thread")
	flag.StringVar(&subject, "generate", "", "Generate a Bluesky thread about this subject and publish it")
	flag.StringVar(&postID, "post", "", "ID of a stored post to publish now")
	flag.StringVar(&platform, "platform", "bluesky", "Platform for --post (bluesky or twitter)")
	flag.StringVar(&token, "token", "", "Twitter bearer token for --post (defaults to TWITTER_BEARER_TOKEN)")
	flag.BoolVar(&due, "due", false, "Run one batch of due posts")
	flag.Parse()

	modes := 0
	for _, set := range []bool{text != "", subject != "", postID != "", due} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("exactly one of --text, --generate, --post or --due is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case text != "":
		fmt.Println("Publishing thread...")
		result, err := a.Service.PublishThread(ctx, domain.PlatformBluesky, text)
		printThread(result)
		return err

	case subject != "":
		fmt.Printf("Generating thread about %q...\n", subject)
		generated, result, err := a.Service.GenerateThread(ctx, domain.PlatformBluesky, subject)
		if generated != "" {
			fmt.Printf("Generated text:\n%s\n\n", generated)
		}
		printThread(result)
		return err

	case postID != "":
		p, err := domain.ParsePlatform(platform)
		if err != nil {
			return err
		}
		fmt.Printf("Publishing post %s to %s...\n", postID, p)
		result, err := a.Service.PublishNow(ctx, domain.PublishRequest{PostID: postID, Platform: p, BearerToken: token})
		if err != nil {
			if result != nil && result.Thread != nil {
				printThread(*result.Thread)
			}
			return err
		}
		return printJSON(result)

	default:
		fmt.Println("Running due posts...")
		report, err := a.Service.PublishDue(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("%d due, %d succeeded, %d failed, %d skipped\n",
			report.Due,
			report.Count(domain.OutcomeSuccess),
			report.Count(domain.OutcomeFailed)+report.Count(domain.OutcomeCredentialsInvalid),
			report.Count(domain.OutcomeSkipped),
		)
		return printJSON(report)
	}
}

func printThread(result domain.ThreadResult) {
	if result.Total == 0 {
		return
	}
	fmt.Printf("Delivered %d of %d parts\n", result.Delivered, result.Total)
	uris := make([]string, 0, len(result.Refs))
	for _, ref := range result.Refs {
		uris = append(uris, ref.URI)
	}
	if len(uris) > 0 {
		fmt.Println(strings.Join(uris, "\n"))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
