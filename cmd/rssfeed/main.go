package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/josdijkstraco/rssfeed-agent/facade"
	"github.com/josdijkstraco/rssfeed-agent/feed"
	"github.com/josdijkstraco/rssfeed-agent/model"
	"github.com/josdijkstraco/rssfeed-agent/opml"
	"github.com/josdijkstraco/rssfeed-agent/poller"
	"github.com/josdijkstraco/rssfeed-agent/store"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

// pollConfig holds the poll daemon settings read from the environment.
type pollConfig struct {
	Interval    time.Duration `env:"RSS_POLL_INTERVAL, default=900s"`
	Concurrency int           `env:"RSS_POLL_CONCURRENCY, default=8"`
}

func main() {
	app := &cli.App{
		Name:    "rssfeed",
		Usage:   "A scriptable RSS/Atom feed catalog",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Value:   getDefaultDBPath(),
				Usage:   "Database file path",
				EnvVars: []string{"RSS_DB_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Aliases:   []string{"subscribe"},
				Usage:     "Subscribe to a feed",
				ArgsUsage: "<url>",
				Action:    subscribe,
			},
			{
				Name:   "feeds",
				Usage:  "List subscribed feeds",
				Action: listFeeds,
			},
			{
				Name:  "items",
				Usage: "List catalog items, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "feed",
						Aliases: []string{"f"},
						Usage:   "Restrict to one feed (URL or title fragment)",
					},
					&cli.StringFlag{
						Name:    "since",
						Aliases: []string{"s"},
						Usage:   "Only items published after (ISO date or duration, e.g., 7d, 2w)",
					},
					&cli.StringFlag{
						Name:  "until",
						Usage: "Only items published before (ISO date or duration)",
					},
					&cli.BoolFlag{
						Name:    "unread",
						Aliases: []string{"u"},
						Usage:   "Show only unread items",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   20,
						Usage:   "Maximum number of items to return",
					},
				},
				Action: listItems,
			},
			{
				Name:      "search",
				Usage:     "Full-text search over item titles and summaries",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Value:   20,
						Usage:   "Maximum number of items to return",
					},
				},
				Action: searchItems,
			},
			{
				Name:      "show",
				Usage:     "Show item details",
				ArgsUsage: "<item-id>",
				Action:    showItem,
			},
			{
				Name:      "mark-read",
				Usage:     "Mark items as read",
				ArgsUsage: "[<item-id>...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "feed",
						Aliases: []string{"f"},
						Usage:   "Mark every item of a feed (URL or title fragment)",
					},
				},
				Action: markRead,
			},
			{
				Name:   "mark-all-read",
				Usage:  "Mark every item in the catalog as read",
				Action: markAllRead,
			},
			{
				Name:      "mark-unread",
				Usage:     "Mark items as unread",
				ArgsUsage: "<item-id>...",
				Action:    markUnread,
			},
			{
				Name:      "remove",
				Aliases:   []string{"unsubscribe"},
				Usage:     "Unsubscribe from a feed and drop its items",
				ArgsUsage: "<url-or-title>",
				Action:    unsubscribe,
			},
			{
				Name:   "update",
				Usage:  "Fetch all active feeds once",
				Action: updateFeeds,
			},
			{
				Name:   "poll",
				Usage:  "Run the ingestion poller until interrupted",
				Action: pollDaemon,
			},
			{
				Name:      "import",
				Usage:     "Import subscriptions from an OPML file",
				ArgsUsage: "<opml-file>",
				Action:    importOPML,
			},
			{
				Name:  "export",
				Usage: "Export subscriptions to OPML",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (default: stdout)",
					},
				},
				Action: exportOPML,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rssfeed.db"
	}
	return filepath.Join(home, ".config", "rssfeed", "rssfeed.db")
}

func getStore(c *cli.Context) (*store.Store, error) {
	dbPath := c.String("db")

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return s, nil
}

func getFacade(c *cli.Context) (*facade.Facade, *store.Store, error) {
	s, err := getStore(c)
	if err != nil {
		return nil, nil, err
	}
	return facade.New(s, feed.NewFetcher()), s, nil
}

func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func parseIDs(c *cli.Context) []int64 {
	var ids []int64
	for i := 0; i < c.NArg(); i++ {
		id, err := strconv.ParseInt(c.Args().Get(i), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func subscribe(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: rssfeed add <url>", ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.Subscribe(c.Context, c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to subscribe: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func listFeeds(c *cli.Context) error {
	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.ListFeeds(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to list feeds: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func listItems(c *cli.Context) error {
	since, err := resolveTimeArg(c.String("since"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid --since: %v", err), ExitUsageError)
	}
	until, err := resolveTimeArg(c.String("until"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid --until: %v", err), ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.GetItems(c.Context, facade.GetItemsRequest{
		FeedIdentifier: c.String("feed"),
		Since:          since,
		Until:          until,
		UnreadOnly:     c.Bool("unread"),
		Limit:          c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get items: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func searchItems(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: rssfeed search <query>", ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.SearchItems(c.Context, c.Args().Get(0), c.Int("limit"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to search items: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func showItem(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: rssfeed show <item-id>", ExitUsageError)
	}

	id, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
	if err != nil {
		return cli.Exit("Invalid item ID", ExitUsageError)
	}

	s, err := getStore(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	entry, err := s.GetEntry(c.Context, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("Item %d not found", id), ExitDataError)
		}
		return cli.Exit(fmt.Sprintf("Failed to get item: %v", err), ExitDataError)
	}

	return outputJSON(entry)
}

func markRead(c *cli.Context) error {
	ids := parseIDs(c)
	identifier := c.String("feed")
	if len(ids) == 0 && identifier == "" {
		return cli.Exit("Usage: rssfeed mark-read [--feed <identifier>] [<item-id>...]", ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.MarkRead(c.Context, facade.MarkReadRequest{ItemIDs: ids, FeedIdentifier: identifier})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to mark read: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func markAllRead(c *cli.Context) error {
	s, err := getStore(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	marked, err := s.MarkAllRead(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to mark all read: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"items_marked": marked,
	})
}

func markUnread(c *cli.Context) error {
	ids := parseIDs(c)
	if len(ids) == 0 {
		return cli.Exit("Usage: rssfeed mark-unread <item-id>...", ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.MarkUnread(c.Context, ids)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to mark unread: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func unsubscribe(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: rssfeed remove <url-or-title>", ExitUsageError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	resp, err := f.Unsubscribe(c.Context, c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to unsubscribe: %v", err), ExitDataError)
	}

	return outputJSON(resp)
}

func updateFeeds(c *cli.Context) error {
	s, err := getStore(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	p := poller.New(s, feed.NewFetcher())
	inserted, err := p.RunCycle(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Update failed: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"new_items": inserted,
	})
}

func pollDaemon(c *cli.Context) error {
	var cfg pollConfig
	if err := envconfig.Process(c.Context, &cfg); err != nil {
		return cli.Exit(fmt.Sprintf("Invalid configuration: %v", err), ExitUsageError)
	}

	s, err := getStore(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	p := poller.New(s, feed.NewFetcher(),
		poller.WithInterval(cfg.Interval),
		poller.WithConcurrency(cfg.Concurrency),
	)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return p.Run(ctx)
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if err != nil && !errors.As(err, &sig) && !errors.Is(err, context.Canceled) {
		return cli.Exit(fmt.Sprintf("Poller stopped: %v", err), ExitGeneralError)
	}
	log.Info("poller stopped")
	return nil
}

func importOPML(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: rssfeed import <opml-file>", ExitUsageError)
	}

	file, err := os.Open(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open OPML file: %v", err), ExitDataError)
	}
	defer file.Close()

	subs, err := opml.Parse(file)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to parse OPML: %v", err), ExitDataError)
	}

	f, s, err := getFacade(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	imported := 0
	skipped := 0
	var failures []string

	for _, sub := range subs {
		resp, err := f.Subscribe(c.Context, sub.URL)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", sub.URL, err))
			continue
		}
		if resp.Status != facade.StatusSubscribed {
			skipped++
			failures = append(failures, fmt.Sprintf("%s: %s", sub.URL, resp.Message))
			continue
		}
		imported++
	}

	return outputJSON(map[string]interface{}{
		"imported": imported,
		"skipped":  skipped,
		"total":    len(subs),
		"errors":   failures,
	})
}

func exportOPML(c *cli.Context) error {
	s, err := getStore(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer s.Close()

	feeds, err := s.ListFeeds(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to list feeds: %v", err), ExitDataError)
	}

	outputPath := c.String("output")
	var writer io.Writer

	if outputPath == "" {
		writer = os.Stdout
	} else {
		file, err := os.Create(outputPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to create output file: %v", err), ExitDataError)
		}
		defer file.Close()
		writer = file
	}

	if err := opml.Generate(writer, feeds); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to generate OPML: %v", err), ExitDataError)
	}

	if outputPath != "" {
		return outputJSON(map[string]interface{}{
			"file":  outputPath,
			"count": len(feeds),
		})
	}

	return nil
}
