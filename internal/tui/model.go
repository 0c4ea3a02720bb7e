// Package tui is the full-screen terminal frontend. The Bubble Tea
// loop never touches the session directly from View: commands mutate
// it one at a time and hand back an immutable snapshot for rendering.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/markdown"
	"github.com/recallhq/recall/internal/session"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/internal/stream"
	"github.com/recallhq/recall/internal/validation"
)

// noticeBoard collects session alerts until the update loop drains
// them. It implements session.Notifier.
type noticeBoard struct {
	mu      sync.Mutex
	notices []string
}

func (b *noticeBoard) Error(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, message)
}

func (b *noticeBoard) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	notices := b.notices
	b.notices = nil
	return notices
}

// snapshot is the render-safe copy of session state taken after each
// session-touching command.
type snapshot struct {
	messages       []session.Message
	state          session.State
	conversationID int
	notices        []string
}

func takeSnapshot(sess *session.Session, board *noticeBoard) snapshot {
	msgs := sess.Messages()
	return snapshot{
		messages:       append([]session.Message(nil), msgs...),
		state:          sess.State(),
		conversationID: sess.ConversationID(),
		notices:        board.drain(),
	}
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	client *api.Client
	store  *store.Store
	sess   *session.Session
	board  *noticeBoard
	cfg    *config.Config

	viewport  viewport.Model
	textinput textinput.Model
	renderer  *markdown.Renderer

	// Render state, updated only inside Update.
	transcript     []session.Message
	conversationID int
	streaming      bool
	toast          string
	notice         string

	width  int
	height int
}

func newModel(client *api.Client, st *store.Store, sess *session.Session, board *noticeBoard, cfg *config.Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask your second brain..."
	ti.Focus()
	ti.CharLimit = validation.MaxMessageLength

	vp := viewport.New(80, 20)
	vp.SetContent("Connected to " + cfg.Server.URL + ". Type a question to begin, /help for commands.\n")

	width := cfg.UI.Width
	if width <= 0 {
		width = 80
	}

	return Model{
		client:    client,
		store:     st,
		sess:      sess,
		board:     board,
		cfg:       cfg,
		textinput: ti,
		viewport:  vp,
		renderer:  markdown.NewRenderer(width),
	}
}

// NewSessionModel wires a fresh session around the given client and
// store, returning the model ready for tea.NewProgram.
func NewSessionModel(client *api.Client, st *store.Store, cfg *config.Config) Model {
	board := &noticeBoard{}
	sess := session.New(
		session.StreamerFunc(func(ctx context.Context, content string, conversationID int) (stream.EventSource, error) {
			return client.OpenStream(ctx, content, conversationID)
		}),
		st,
		board,
	)
	return newModel(client, st, sess, board, cfg)
}

// Init checks server health in the background.
func (m Model) Init() tea.Cmd {
	return m.checkHealth()
}

// Msg types
type (
	submitResultMsg struct {
		snap snapshot
		src  stream.EventSource
		err  error
	}
	streamEventMsg struct {
		snap snapshot
		src  stream.EventSource
	}
	streamEndMsg struct {
		snap    snapshot
		refresh bool
	}
	conversationMsg struct {
		snap snapshot
		err  error
	}
	conversationsListedMsg struct {
		conversations []api.Conversation
		err           error
	}
	documentsListedMsg struct {
		list *api.DocumentList
		err  error
	}
	memoriesListedMsg struct {
		list *api.MemoryList
		err  error
	}
	digestMsg struct {
		digest *api.Digest
		err    error
	}
	statsMsg struct {
		stats *api.Stats
		err   error
	}
	healthMsg struct {
		health *api.Health
		err    error
	}
	conversationDeletedMsg struct {
		id  int
		err error
	}
)

// Update handles events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	m.textinput, tiCmd = m.textinput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		footerHeight := 4 // status line + bordered input
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - headerHeight - footerHeight
		m.textinput.Width = msg.Width - 4

		renderWidth := m.cfg.UI.Width
		if renderWidth <= 0 || renderWidth > msg.Width-2 {
			renderWidth = msg.Width - 2
		}
		m.renderer.SetWidth(renderWidth)
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textinput.Value())
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				m.textinput.Reset()
				return m.handleCommand(input)
			}
			if m.streaming {
				m.toast = "still answering, hold on"
				return m, nil
			}
			m.textinput.Reset()
			m.toast = ""
			m.notice = ""
			return m, m.submit(input)
		}

	case submitResultMsg:
		m.applySnapshot(msg.snap)
		if msg.err != nil || msg.src == nil {
			// Failed submissions were already reported through the
			// notice board; nothing more to do here.
			return m, nil
		}
		return m, pumpStream(m.sess, m.board, msg.src)

	case streamEventMsg:
		m.applySnapshot(msg.snap)
		return m, pumpStream(m.sess, m.board, msg.src)

	case streamEndMsg:
		m.applySnapshot(msg.snap)
		if msg.refresh && m.conversationID > 0 {
			return m, m.fetchConversation(m.conversationID)
		}
		return m, nil

	case conversationMsg:
		if msg.err != nil {
			// Keep the locally settled transcript; the next read will
			// retry the refresh.
			m.toast = msg.err.Error()
			return m, nil
		}
		m.applySnapshot(msg.snap)
		return m, nil

	case conversationsListedMsg:
		return m.showConversations(msg)

	case documentsListedMsg:
		return m.showDocuments(msg)

	case memoriesListedMsg:
		return m.showMemories(msg)

	case digestMsg:
		return m.showDigest(msg)

	case statsMsg:
		return m.showStats(msg)

	case healthMsg:
		if msg.err != nil {
			m.toast = "server unreachable at " + m.cfg.Server.URL
		} else if msg.health != nil && !msg.health.Ollama.Connected {
			m.toast = "server is up but its model backend is disconnected"
		}
		return m, nil

	case conversationDeletedMsg:
		if msg.err != nil {
			m.toast = msg.err.Error()
		} else {
			m.setNotice(fmt.Sprintf("Deleted conversation #%d.", msg.id))
			// The stream pump owns the session while streaming; the
			// exchange finishes against the now-deleted conversation
			// and the refresh surfaces the miss.
			if msg.id == m.conversationID && !m.streaming {
				m.sess.Reset()
				m.conversationID = 0
				m.transcript = nil
				m.refreshViewport()
			}
		}
		return m, nil
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

// applySnapshot copies the latest session state into the model and
// re-renders the transcript.
func (m *Model) applySnapshot(snap snapshot) {
	m.transcript = snap.messages
	m.conversationID = snap.conversationID
	m.streaming = snap.state == session.Streaming
	for _, notice := range snap.notices {
		m.toast = notice
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	content := m.renderTranscript()
	if m.notice != "" {
		content += "\n" + styleSystem.Render(m.notice)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m *Model) setNotice(text string) {
	m.notice = text
	m.refreshViewport()
}

// View renders the UI.
func (m Model) View() string {
	title := "recall"
	if m.conversationID > 0 {
		title = fmt.Sprintf("recall • conversation #%d", m.conversationID)
	}
	header := styleHeader.Render(title)

	status := " "
	switch {
	case m.streaming:
		status = styleStreaming.Render("thinking...")
	case m.toast != "":
		status = styleError.Render(m.toast)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		status,
		styleInput.Render(m.textinput.View()),
	)
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.transcript {
		label := styleUserLabel.Render("You:")
		if msg.Role == api.RoleAssistant {
			label = styleAILabel.Render("Recall:")
		}
		b.WriteString(label)
		if m.cfg.UI.ShowTimestamps && !msg.CreatedAt.IsZero() {
			b.WriteString(" " + styleTimestamp.Render(formatRelative(msg.CreatedAt.Time)))
		}
		if msg.Failed {
			b.WriteString(" " + styleFailedTag.Render("(not delivered)"))
		}
		b.WriteString("\n")

		if msg.Role == api.RoleAssistant {
			b.WriteString(m.renderer.Render(msg.Content))
		} else {
			b.WriteString(msg.Content)
		}
		b.WriteString("\n")

		if m.cfg.UI.ShowSources && len(msg.Sources) > 0 {
			b.WriteString(styleSource.Render(formatSourceLine(msg.Sources)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatSourceLine(sources []api.SourceCitation) string {
	titles := make([]string, 0, len(sources))
	for _, src := range sources {
		titles = append(titles, fmt.Sprintf("%s (%.0f%%)", src.DocumentTitle, src.RelevanceScore*100))
	}
	return "sources: " + strings.Join(titles, ", ")
}

// Commands against the session. Exactly one of these runs at a time:
// the streaming guard in Update prevents a second submit, and every
// stream command schedules its successor only from Update.

func (m Model) submit(content string) tea.Cmd {
	sess, board := m.sess, m.board
	return func() tea.Msg {
		src, err := sess.Submit(context.Background(), content)
		return submitResultMsg{snap: takeSnapshot(sess, board), src: src, err: err}
	}
}

func pumpStream(sess *session.Session, board *noticeBoard, src stream.EventSource) tea.Cmd {
	return func() tea.Msg {
		ev, err := src.Next(context.Background())
		if err != nil {
			sess.Finish()
			src.Close()
			return streamEndMsg{snap: takeSnapshot(sess, board)}
		}

		sess.Apply(ev)
		switch ev.(type) {
		case stream.DoneEvent:
			src.Close()
			return streamEndMsg{snap: takeSnapshot(sess, board), refresh: true}
		case stream.ErrorEvent:
			src.Close()
			return streamEndMsg{snap: takeSnapshot(sess, board)}
		}
		return streamEventMsg{snap: takeSnapshot(sess, board), src: src}
	}
}

func (m Model) fetchConversation(id int) tea.Cmd {
	sess, board, st := m.sess, m.board, m.store
	return func() tea.Msg {
		conv, err := st.Conversation(context.Background(), id)
		if err != nil {
			return conversationMsg{err: err}
		}
		sess.AdoptConversation(conv)
		return conversationMsg{snap: takeSnapshot(sess, board)}
	}
}

func (m Model) checkHealth() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		health, err := client.Health(ctx)
		return healthMsg{health: health, err: err}
	}
}

// Slash commands.

func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	if err := validation.ValidateCommand(input); err != nil {
		m.toast = err.Error()
		return m, nil
	}

	parts := strings.Fields(input)
	cmd := parts[0]
	m.toast = ""

	switch cmd {
	case "/exit", "/quit":
		return m, tea.Quit

	case "/help":
		m.setNotice(helpText)
		return m, nil

	case "/new", "/clear":
		if m.streaming {
			m.toast = "still answering, hold on"
			return m, nil
		}
		m.sess.Reset()
		m.conversationID = 0
		m.transcript = nil
		m.notice = "Started a new conversation."
		m.refreshViewport()
		return m, nil

	case "/list":
		return m, m.listConversations()

	case "/load":
		if len(parts) < 2 {
			m.toast = "usage: /load <conversation-id>"
			return m, nil
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil || id <= 0 {
			m.toast = "invalid conversation id: " + parts[1]
			return m, nil
		}
		if m.streaming {
			m.toast = "still answering, hold on"
			return m, nil
		}
		return m, m.fetchConversation(id)

	case "/delete":
		if len(parts) < 2 {
			m.toast = "usage: /delete <conversation-id>"
			return m, nil
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil || id <= 0 {
			m.toast = "invalid conversation id: " + parts[1]
			return m, nil
		}
		return m, m.deleteConversation(id)

	case "/docs", "/documents":
		search := ""
		if len(parts) > 1 {
			search = strings.Join(parts[1:], " ")
		}
		return m, m.listDocuments(search)

	case "/mem", "/memories":
		memoryType := ""
		if len(parts) > 1 {
			memoryType = parts[1]
		}
		return m, m.listMemories(memoryType)

	case "/digest":
		return m, m.fetchDigest()

	case "/stats":
		return m, m.fetchStats()

	case "/health":
		return m, m.checkHealth()

	case "/sources":
		m.setNotice(m.formatLastSources())
		return m, nil

	default:
		m.toast = "unknown command " + cmd + ", try /help"
		return m, nil
	}
}

const helpText = `Commands:
/new, /clear           start a new conversation
/list                  list saved conversations
/load <id>             open a saved conversation
/delete <id>           delete a conversation
/docs [search]         list indexed documents
/mem [type]            list memories (fact, preference, insight, note)
/digest                show today's digest
/stats                 show server counters
/sources               show citations for the last answer
/health                check server status
/exit, /quit           leave

Anything else is sent to your second brain as a question.`

func (m Model) listConversations() tea.Cmd {
	st := m.store
	return func() tea.Msg {
		convs, err := st.List(context.Background(), 1, 50)
		return conversationsListedMsg{conversations: convs, err: err}
	}
}

func (m Model) deleteConversation(id int) tea.Cmd {
	st := m.store
	return func() tea.Msg {
		err := st.Delete(context.Background(), id)
		return conversationDeletedMsg{id: id, err: err}
	}
}

func (m Model) listDocuments(search string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		list, err := client.ListDocuments(context.Background(), 1, 50, "", search)
		return documentsListedMsg{list: list, err: err}
	}
}

func (m Model) listMemories(memoryType string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		list, err := client.ListMemories(context.Background(), 1, 50, memoryType, false)
		return memoriesListedMsg{list: list, err: err}
	}
}

func (m Model) fetchDigest() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		digest, err := client.TodayDigest(context.Background())
		return digestMsg{digest: digest, err: err}
	}
}

func (m Model) fetchStats() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		stats, err := client.Stats(context.Background())
		return statsMsg{stats: stats, err: err}
	}
}

// Result renderers.

func (m Model) showConversations(msg conversationsListedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.toast = msg.err.Error()
		return m, nil
	}
	if len(msg.conversations) == 0 {
		m.setNotice("No saved conversations yet.")
		return m, nil
	}

	var b strings.Builder
	b.WriteString("Conversations:\n")
	for _, conv := range msg.conversations {
		title := strings.TrimSpace(conv.Title)
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "  #%d  %s\n", conv.ID, title)
		fmt.Fprintf(&b, "       %d messages • %s\n", conv.MessageCount, formatRelative(conv.UpdatedAt.Time))
	}
	b.WriteString("\nUse /load <id> to open one.")
	m.setNotice(b.String())
	return m, nil
}

func (m Model) showDocuments(msg documentsListedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.toast = msg.err.Error()
		return m, nil
	}
	if msg.list == nil || len(msg.list.Items) == 0 {
		m.setNotice("No documents indexed yet.")
		return m, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Documents (%d total):\n", msg.list.Total)
	for _, doc := range msg.list.Items {
		fmt.Fprintf(&b, "  #%d  %s  [%s]  %d chunks\n", doc.ID, doc.Title, doc.Status, doc.ChunkCount)
	}
	m.setNotice(b.String())
	return m, nil
}

func (m Model) showMemories(msg memoriesListedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.toast = msg.err.Error()
		return m, nil
	}
	if msg.list == nil || len(msg.list.Items) == 0 {
		m.setNotice("No memories stored yet.")
		return m, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Memories (%d total):\n", msg.list.Total)
	for _, mem := range msg.list.Items {
		pin := " "
		if mem.IsPinned {
			pin = "*"
		}
		fmt.Fprintf(&b, " %s #%d  [%s]  %s\n", pin, mem.ID, mem.MemoryType, mem.Title)
	}
	m.setNotice(b.String())
	return m, nil
}

func (m Model) showDigest(msg digestMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.toast = msg.err.Error()
		return m, nil
	}
	m.setNotice(fmt.Sprintf("Digest for %s:\n%s", msg.digest.Date, m.renderer.Render(msg.digest.Content)))
	return m, nil
}

func (m Model) showStats(msg statsMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.toast = msg.err.Error()
		return m, nil
	}
	s := msg.stats
	m.setNotice(fmt.Sprintf(
		"Server stats:\n  documents      %d\n  conversations  %d\n  messages       %d\n  memories       %d\n  vectors        %d",
		s.Documents, s.Conversations, s.Messages, s.Memories, s.Vectors))
	return m, nil
}

func (m Model) formatLastSources() string {
	for i := len(m.transcript) - 1; i >= 0; i-- {
		msg := m.transcript[i]
		if msg.Role != api.RoleAssistant || len(msg.Sources) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString("Sources for the last answer:\n")
		for _, src := range msg.Sources {
			fmt.Fprintf(&b, "  %s (relevance %.2f", src.DocumentTitle, src.RelevanceScore)
			if src.PageNumber > 0 {
				fmt.Fprintf(&b, ", page %d", src.PageNumber)
			}
			b.WriteString(")\n")
			if chunk := strings.TrimSpace(src.ChunkContent); chunk != "" {
				if len(chunk) > 200 {
					chunk = chunk[:200] + "..."
				}
				b.WriteString("    " + chunk + "\n")
			}
		}
		return b.String()
	}
	return "The last answer cited no sources."
}

// formatRelative formats a time relative to now.
func formatRelative(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	delta := time.Since(t)
	if delta < time.Minute {
		return "just now"
	}
	if delta < time.Hour {
		return fmt.Sprintf("%d min ago", int(delta.Minutes()))
	}
	if delta < 24*time.Hour {
		return fmt.Sprintf("%d hr ago", int(delta.Hours()))
	}
	if delta < 30*24*time.Hour {
		return fmt.Sprintf("%d d ago", int(delta.Hours()/24))
	}
	return t.Format("2006-01-02")
}
