// Package repl is the inline terminal frontend: line-edited input
// with streamed answers printed straight to stdout. It shares the
// session machinery with the full-screen view.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/markdown"
	"github.com/recallhq/recall/internal/session"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/internal/stream"
)

const historyFileName = ".recall_history"

// printNotifier writes session alerts straight to the terminal. The
// session only calls it from the REPL goroutine, so no locking.
type printNotifier struct {
	out io.Writer
}

func (n printNotifier) Error(message string) {
	fmt.Fprintf(n.out, "error: %s\n", message)
}

// REPL drives an interactive line-based chat.
type REPL struct {
	client   *api.Client
	store    *store.Store
	sess     *session.Session
	renderer *markdown.Renderer
	cfg      *config.Config
	out      io.Writer
	line     *liner.State
}

// New wires a REPL over the given client and store. Render width
// follows the terminal when stdout is one.
func New(client *api.Client, st *store.Store, cfg *config.Config) *REPL {
	width := cfg.UI.Width
	if width <= 0 {
		width = 80
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
			width = w - 2
		}
	}

	out := os.Stdout
	sess := session.New(
		session.StreamerFunc(func(ctx context.Context, content string, conversationID int) (stream.EventSource, error) {
			return client.OpenStream(ctx, content, conversationID)
		}),
		st,
		printNotifier{out: out},
	)

	return &REPL{
		client:   client,
		store:    st,
		sess:     sess,
		renderer: markdown.NewRenderer(width),
		cfg:      cfg,
		out:      out,
	}
}

// Run reads and handles input until /quit or EOF.
func (r *REPL) Run(ctx context.Context) error {
	r.line = liner.NewLiner()
	r.line.SetCtrlCAborts(true)
	defer r.line.Close()

	historyPath := r.loadHistory()
	defer r.saveHistory(historyPath)

	fmt.Fprintf(r.out, "recall %s • /help for commands, /quit to leave\n", r.cfg.Server.URL)

	for {
		prompt := "> "
		if id := r.sess.ConversationID(); id > 0 {
			prompt = fmt.Sprintf("[#%d] > ", id)
		}

		input, err := r.line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		r.ask(ctx, input)
	}
}

// ask runs one exchange, printing tokens as they arrive.
func (r *REPL) ask(ctx context.Context, content string) {
	src, err := r.sess.Submit(ctx, content)
	if err != nil {
		if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrEmptyInput) {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		// Transport failures were already reported by the notifier.
		return
	}
	defer src.Close()

	var sources []api.SourceCitation
	printed := false
	done := false
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			r.sess.Finish()
			if printed {
				fmt.Fprintln(r.out)
			}
			return
		}

		switch ev := ev.(type) {
		case stream.TokenEvent:
			fmt.Fprint(r.out, ev.Content)
			printed = true
		case stream.SourcesEvent:
			sources = ev.Sources
		case stream.DoneEvent:
			done = true
		}

		r.sess.Apply(ev)
		if r.sess.State() == session.Idle {
			break
		}
	}

	if printed {
		fmt.Fprintln(r.out)
	}
	if r.cfg.UI.ShowSources && len(sources) > 0 {
		fmt.Fprintln(r.out, formatSources(sources))
	}

	// Pick up the durable copy so server message ids replace the
	// provisional ones. Failed exchanges keep the local transcript.
	if id := r.sess.ConversationID(); done && id > 0 {
		if conv, err := r.store.Conversation(ctx, id); err == nil {
			r.sess.AdoptConversation(conv)
		}
	}
}

// handleCommand runs one slash command and reports whether to quit.
func (r *REPL) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(r.out, helpText)

	case "/new", "/clear":
		r.sess.Reset()
		fmt.Fprintln(r.out, "Started a new conversation.")

	case "/list":
		r.listConversations(ctx)

	case "/load":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /load <conversation-id>")
			break
		}
		r.loadConversation(ctx, parts[1])

	case "/delete":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "usage: /delete <conversation-id>")
			break
		}
		r.deleteConversation(ctx, parts[1])

	case "/docs", "/documents":
		r.listDocuments(ctx, strings.Join(parts[1:], " "))

	case "/mem", "/memories":
		memoryType := ""
		if len(parts) > 1 {
			memoryType = parts[1]
		}
		r.listMemories(ctx, memoryType)

	case "/digest":
		if digest, err := r.client.TodayDigest(ctx); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "Digest for %s:\n%s\n", digest.Date, r.renderer.Render(digest.Content))
		}

	case "/stats":
		if stats, err := r.client.Stats(ctx); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "documents %d • conversations %d • messages %d • memories %d • vectors %d\n",
				stats.Documents, stats.Conversations, stats.Messages, stats.Memories, stats.Vectors)
		}

	case "/health":
		if health, err := r.client.Health(ctx); err != nil {
			fmt.Fprintf(r.out, "server unreachable: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "server %s, model backend connected: %t\n", health.Status, health.Ollama.Connected)
		}

	case "/sources":
		r.showLastSources()

	default:
		fmt.Fprintf(r.out, "unknown command %s, try /help\n", parts[0])
	}
	return false
}

const helpText = `Commands:
  /new, /clear      start a new conversation
  /list             list saved conversations
  /load <id>        open a saved conversation
  /delete <id>      delete a conversation
  /docs [search]    list indexed documents
  /mem [type]       list memories
  /digest           show today's digest
  /stats            show server counters
  /sources          show citations for the last answer
  /health           check server status
  /quit, /exit      leave

Anything else is sent as a question.`

func (r *REPL) listConversations(ctx context.Context) {
	convs, err := r.store.List(ctx, 1, 50)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if len(convs) == 0 {
		fmt.Fprintln(r.out, "No saved conversations yet.")
		return
	}
	for _, conv := range convs {
		title := strings.TrimSpace(conv.Title)
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(r.out, "#%d  %s  (%d messages)\n", conv.ID, title, conv.MessageCount)
	}
}

func (r *REPL) loadConversation(ctx context.Context, arg string) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		fmt.Fprintf(r.out, "invalid conversation id: %s\n", arg)
		return
	}
	conv, err := r.store.Conversation(ctx, id)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	r.sess.AdoptConversation(conv)

	fmt.Fprintf(r.out, "Conversation #%d: %s\n", conv.ID, conv.Title)
	for _, msg := range conv.Messages {
		if msg.Role == api.RoleUser {
			fmt.Fprintf(r.out, "\nYou: %s\n", msg.Content)
		} else {
			fmt.Fprintf(r.out, "\nRecall:\n%s\n", r.renderer.Render(msg.Content))
		}
	}
}

func (r *REPL) deleteConversation(ctx context.Context, arg string) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		fmt.Fprintf(r.out, "invalid conversation id: %s\n", arg)
		return
	}
	if err := r.store.Delete(ctx, id); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if id == r.sess.ConversationID() {
		r.sess.Reset()
	}
	fmt.Fprintf(r.out, "Deleted conversation #%d.\n", id)
}

func (r *REPL) listDocuments(ctx context.Context, search string) {
	list, err := r.client.ListDocuments(ctx, 1, 50, "", search)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if len(list.Items) == 0 {
		fmt.Fprintln(r.out, "No documents indexed yet.")
		return
	}
	for _, doc := range list.Items {
		fmt.Fprintf(r.out, "#%d  %s  [%s]  %d chunks\n", doc.ID, doc.Title, doc.Status, doc.ChunkCount)
	}
}

func (r *REPL) listMemories(ctx context.Context, memoryType string) {
	list, err := r.client.ListMemories(ctx, 1, 50, memoryType, false)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	if len(list.Items) == 0 {
		fmt.Fprintln(r.out, "No memories stored yet.")
		return
	}
	for _, mem := range list.Items {
		pin := " "
		if mem.IsPinned {
			pin = "*"
		}
		fmt.Fprintf(r.out, "%s #%d  [%s]  %s\n", pin, mem.ID, mem.MemoryType, mem.Title)
	}
}

func (r *REPL) showLastSources() {
	msgs := r.sess.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != api.RoleAssistant || len(msgs[i].Sources) == 0 {
			continue
		}
		for _, src := range msgs[i].Sources {
			fmt.Fprintf(r.out, "%s (relevance %.2f)\n", src.DocumentTitle, src.RelevanceScore)
			if chunk := strings.TrimSpace(src.ChunkContent); chunk != "" {
				if len(chunk) > 200 {
					chunk = chunk[:200] + "..."
				}
				fmt.Fprintf(r.out, "  %s\n", chunk)
			}
		}
		return
	}
	fmt.Fprintln(r.out, "The last answer cited no sources.")
}

func formatSources(sources []api.SourceCitation) string {
	titles := make([]string, 0, len(sources))
	for _, src := range sources {
		titles = append(titles, fmt.Sprintf("%s (%.0f%%)", src.DocumentTitle, src.RelevanceScore*100))
	}
	return "sources: " + strings.Join(titles, ", ")
}

func (r *REPL) loadHistory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, historyFileName)
	if f, err := os.Open(path); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return path
}

func (r *REPL) saveHistory(path string) {
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
}
