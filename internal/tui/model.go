// Package tui is the terminal front end of the live post view.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/internal/liveview"
	"github.com/d60-Lab/livepost/internal/model"
	"github.com/d60-Lab/livepost/pkg/logger"
)

const opTimeout = 10 * time.Second

// Source 由 liveview.Session 实现
type Source interface {
	Init(ctx context.Context) error
	Reload(ctx context.Context) error
	Posts() []model.Post
	State() liveview.State
	Stale() bool
	Changes() <-chan struct{}
	Create(ctx context.Context, title, content string) error
	Update(ctx context.Context, id int64, title, content string) error
	Delete(ctx context.Context, id int64) error
}

type keyMap struct {
	Add, Edit, Delete, Reload, Quit key.Binding
}

var keys = keyMap{
	Add:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Edit:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Delete: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	initMsg    struct{ err error }
	changedMsg struct{}
	opMsg      struct {
		op  string
		err error
	}
)

type postItem struct{ post model.Post }

func (i postItem) Title() string       { return i.post.Title }
func (i postItem) Description() string { return i.post.Content }
func (i postItem) FilterValue() string { return i.post.Title }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 2 }
func (d itemDelegate) Spacing() int                              { return 1 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(postItem)
	if !ok {
		return
	}
	prefix := "  "
	title := titleStyle.Render(it.post.Title)
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	id := mutedStyle.Render(fmt.Sprintf("#%d", it.post.ID))
	fmt.Fprintf(w, "%s%s %s\n  %s", prefix, id, title, it.post.Content)
}

// Model is the bubbletea model for the live view.
type Model struct {
	src Source

	list    list.Model
	loading bool
	alert   string
	width   int
	height  int

	// 表单：新增或编辑
	form    bool
	editID  int64
	focus   int
	inputs  [2]textinput.Model
	formErr string
}

func New(src Source) Model {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = "Posts"
	l.Styles.Title = titleStyle
	l.Styles.HelpStyle = helpStyle
	l.Styles.PaginationStyle = helpStyle
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("post", "posts")
	extra := func() []key.Binding {
		return []key.Binding{keys.Add, keys.Edit, keys.Delete, keys.Reload}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra
	l.KeyMap.Quit = keys.Quit

	title := textinput.New()
	title.Prompt = "title   > "
	title.Placeholder = "Title..."
	title.CharLimit = 200
	content := textinput.New()
	content.Prompt = "content > "
	content.Placeholder = "Content..."
	content.CharLimit = 2000

	return Model{
		src:     src,
		list:    l,
		loading: true,
		inputs:  [2]textinput.Model{title, content},
		width:   80,
		height:  24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.initCmd(), m.waitForChange())
}

func (m Model) initCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return initMsg{err: m.src.Init(ctx)}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch := m.src.Changes()
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case initMsg:
		if msg.err != nil {
			logger.Error("initial sync failed", zap.Error(msg.err))
			m.alert = "Failed to load posts: " + msg.err.Error()
			return m, nil
		}
		m.loading = false
		m.refresh()
		return m, nil
	case changedMsg:
		m.refresh()
		return m, m.waitForChange()
	case opMsg:
		if msg.err != nil {
			logger.Error("request failed", zap.String("op", msg.op), zap.Error(msg.err))
			m.alert = fmt.Sprintf("Failed to %s post: %v", msg.op, msg.err)
		}
		if msg.op == "reload" {
			m.refresh()
		}
		return m, nil
	}

	// 弹窗期间任意键关闭；初始化失败时关闭后重试
	if m.alert != "" {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.alert = ""
			if m.loading {
				return m, m.initCmd()
			}
		}
		return m, nil
	}

	if m.form {
		return m.updateForm(msg)
	}

	if k, ok := msg.(tea.KeyMsg); ok {
		if key.Matches(k, keys.Quit) {
			return m, tea.Quit
		}
		if m.loading {
			return m, nil
		}
		switch {
		case key.Matches(k, keys.Add):
			m.openForm(0, "", "")
			return m, textinput.Blink
		case key.Matches(k, keys.Edit):
			if it, ok := m.list.SelectedItem().(postItem); ok {
				m.openForm(it.post.ID, it.post.Title, it.post.Content)
				return m, textinput.Blink
			}
			return m, nil
		case key.Matches(k, keys.Delete):
			if it, ok := m.list.SelectedItem().(postItem); ok {
				id := it.post.ID
				return m, m.run("delete", func(ctx context.Context) error { return m.src.Delete(ctx, id) })
			}
			return m, nil
		case key.Matches(k, keys.Reload):
			return m, m.run("reload", m.src.Reload)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.closeForm()
			return m, nil
		case "tab", "shift+tab", "up", "down":
			m.inputs[m.focus].Blur()
			m.focus = 1 - m.focus
			return m, m.inputs[m.focus].Focus()
		case "enter":
			title := strings.TrimSpace(m.inputs[0].Value())
			content := strings.TrimSpace(m.inputs[1].Value())
			if title == "" || content == "" {
				m.formErr = "Title and content are required"
				return m, nil
			}
			id := m.editID
			m.closeForm()
			if id == 0 {
				return m, m.run("create", func(ctx context.Context) error { return m.src.Create(ctx, title, content) })
			}
			return m, m.run("update", func(ctx context.Context) error { return m.src.Update(ctx, id, title, content) })
		}
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *Model) openForm(id int64, title, content string) {
	m.form = true
	m.editID = id
	m.formErr = ""
	m.inputs[0].SetValue(title)
	m.inputs[1].SetValue(content)
	m.inputs[0].CursorEnd()
	m.inputs[1].CursorEnd()
	m.focus = 0
	m.inputs[1].Blur()
	m.inputs[0].Focus()
	m.resize()
}

func (m *Model) closeForm() {
	m.form = false
	m.formErr = ""
	for i := range m.inputs {
		m.inputs[i].SetValue("")
		m.inputs[i].Blur()
	}
	m.resize()
}

// refresh 列表只反映 Source 当前的集合
func (m *Model) refresh() {
	posts := m.src.Posts()
	items := make([]list.Item, 0, len(posts))
	for _, p := range posts {
		items = append(items, postItem{post: p})
	}
	m.list.SetItems(items)
	m.list.Title = m.header()
}

func (m *Model) resize() {
	h := m.height - 4
	if m.form {
		h -= 4
	}
	if h < 1 {
		h = 1
	}
	m.list.SetSize(m.width-4, h)
}

func (m Model) header() string {
	status := successStyle.Render(m.src.State().String())
	switch m.src.State() {
	case liveview.Disconnected:
		status = errorStyle.Render("disconnected")
	case liveview.Synced:
		if m.src.Stale() {
			status = pendingStyle.Render("stale, press r to reload")
		}
	}
	return fmt.Sprintf("Posts   %s", status)
}

func (m Model) View() string {
	if m.alert != "" {
		body := errorStyle.Render("Error") + "\n" + m.alert + "\n\n" + helpStyle.Render("press any key")
		return alertStyle.Render(body)
	}
	if m.loading {
		return panelStyle.Render(accentStyle.Render("Loading..."))
	}

	content := m.list.View()
	if m.form {
		heading := "New post"
		if m.editID != 0 {
			heading = fmt.Sprintf("Edit post #%d", m.editID)
		}
		if m.formErr != "" {
			heading += "  " + errorStyle.Render(m.formErr)
		}
		form := heading + "\n" + m.inputs[0].View() + "\n" + m.inputs[1].View()
		content += "\n" + panelStyle.Render(form)
	}
	return panelStyle.Render(content)
}
