// Command recall is a terminal client for a self-hosted second-brain
// server: full-screen chat by default, an inline REPL with --repl, and
// one-shot questions or slash commands from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/markdown"
	"github.com/recallhq/recall/internal/repl"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/internal/stream"
	"github.com/recallhq/recall/internal/tui"
)

var (
	version = "0.2.0"
	commit  = "none"
)

type app struct {
	cfg    *config.Config
	client *api.Client
	store  *store.Store
}

func newApp(configPath, serverURL string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}

	client, err := api.NewClient(cfg.Server.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Server.TimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.Server.TimeoutSeconds) * time.Second)
	}

	var mirror *storage.Mirror
	if cfg.Cache.Path != "disable" {
		mirror, err = storage.Open(cfg.Cache.Path)
		if err != nil {
			// A broken mirror degrades to online-only operation.
			fmt.Fprintf(os.Stderr, "warning: local mirror unavailable: %v\n", err)
			mirror = nil
		}
	}

	st, err := store.New(client, mirror, cfg.Cache.Entries)
	if err != nil {
		if mirror != nil {
			mirror.Close()
		}
		return nil, err
	}

	return &app{cfg: cfg, client: client, store: st}, nil
}

func (a *app) close() {
	a.store.Close()
}

func main() {
	var (
		configPath  string
		serverURL   string
		replMode    bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&serverURL, "server", "", "Server URL (overrides config)")
	flag.BoolVar(&replMode, "repl", false, "Run inline instead of full screen")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		v := strings.TrimPrefix(version, "v")
		if commit != "none" && commit != "" {
			v = fmt.Sprintf("%s (build %s)", v, commit)
		}
		fmt.Println("recall " + v)
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		runOneShot(configPath, serverURL, args)
		return
	}

	a, err := newApp(configPath, serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if replMode {
		if err := repl.New(a.client, a.store, a.cfg).Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if a.cfg.Logging.File != "" {
		f, err := tea.LogToFile(a.cfg.Logging.File, "recall")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	p := tea.NewProgram(tui.NewSessionModel(a.client, a.store, a.cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

// runOneShot handles `recall "question"` and `recall /command` forms.
func runOneShot(configPath, serverURL string, args []string) {
	a, err := newApp(configPath, serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if strings.HasPrefix(args[0], "/") {
		if err := runCLICommand(a, os.Stdout, args); err != nil {
			fail(err)
		}
		return
	}

	question := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := streamAnswer(ctx, a.client, os.Stdout, question); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// streamAnswer asks one question with no conversation context and
// prints tokens as they arrive.
func streamAnswer(ctx context.Context, client *api.Client, out io.Writer, question string) error {
	src, err := client.OpenStream(ctx, question, 0)
	if err != nil {
		return err
	}
	defer src.Close()

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		switch ev := ev.(type) {
		case stream.TokenEvent:
			fmt.Fprint(out, ev.Content)
		case stream.SourcesEvent:
			// One-shot output stays clean; citations land on stderr.
			for _, s := range ev.Sources {
				fmt.Fprintf(os.Stderr, "source: %s (%.2f)\n", s.DocumentTitle, s.RelevanceScore)
			}
		case stream.DoneEvent:
			fmt.Fprintln(out)
			return nil
		case stream.ErrorEvent:
			fmt.Fprintln(out)
			return fmt.Errorf("server reported: %s", ev.Message)
		}
	}
}

func runCLICommand(a *app, out io.Writer, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "/help":
		printCLIHelp(out)

	case "/list":
		convs, err := a.store.List(ctx, 1, 50)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Fprintln(out, "No saved conversations yet.")
			return nil
		}
		for _, conv := range convs {
			title := strings.TrimSpace(conv.Title)
			if title == "" {
				title = "Untitled"
			}
			fmt.Fprintf(out, "#%d  %s  (%d messages)\n", conv.ID, title, conv.MessageCount)
		}

	case "/load":
		if len(args) < 2 {
			return fmt.Errorf("usage: recall /load <conversation-id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid conversation id: %s", args[1])
		}
		conv, err := a.store.Conversation(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Conversation #%d: %s\n\n", conv.ID, conv.Title)
		for _, msg := range conv.Messages {
			who := "You"
			body := msg.Content
			if msg.Role == api.RoleAssistant {
				who = "Recall"
				// Stored answers carry markup; strip it for pipes and files.
				body = markdown.Plain(body)
			}
			fmt.Fprintf(out, "%s:\n%s\n\n", who, body)
		}

	case "/docs", "/documents":
		list, err := a.client.ListDocuments(ctx, 1, 50, "", strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if len(list.Items) == 0 {
			fmt.Fprintln(out, "No documents indexed yet.")
			return nil
		}
		for _, doc := range list.Items {
			fmt.Fprintf(out, "#%d  %s  [%s]  %d chunks\n", doc.ID, doc.Title, doc.Status, doc.ChunkCount)
		}

	case "/mem", "/memories":
		memoryType := ""
		if len(args) > 1 {
			memoryType = args[1]
		}
		list, err := a.client.ListMemories(ctx, 1, 50, memoryType, false)
		if err != nil {
			return err
		}
		if len(list.Items) == 0 {
			fmt.Fprintln(out, "No memories stored yet.")
			return nil
		}
		for _, mem := range list.Items {
			pin := " "
			if mem.IsPinned {
				pin = "*"
			}
			fmt.Fprintf(out, "%s #%d  [%s]  %s\n", pin, mem.ID, mem.MemoryType, mem.Title)
		}

	case "/stats":
		stats, err := a.client.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "documents %d • conversations %d • messages %d • memories %d • vectors %d\n",
			stats.Documents, stats.Conversations, stats.Messages, stats.Memories, stats.Vectors)

	case "/health":
		health, err := a.client.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "server %s, model backend connected: %t\n", health.Status, health.Ollama.Connected)

	case "/digest":
		digest, err := a.client.TodayDigest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Digest for %s:\n%s\n", digest.Date, digest.Content)

	default:
		return fmt.Errorf("unknown command %s, use 'recall /help' to see available commands", args[0])
	}
	return nil
}

func printCLIHelp(out io.Writer) {
	fmt.Fprintln(out, `recall - terminal client for your second brain

Direct questions:
  recall "when did I plant the tomatoes?"

Commands:
  recall /list            list saved conversations
  recall /load <id>       print a saved conversation
  recall /docs [search]   list indexed documents
  recall /mem [type]      list stored memories
  recall /stats           show server counters
  recall /digest          print today's digest
  recall /health          check server status
  recall /help            show this help

Modes:
  recall                  full-screen chat (default)
  recall --repl           inline chat with line editing
  recall --config <path>  use a custom config file
  recall --server <url>   override the server URL`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
