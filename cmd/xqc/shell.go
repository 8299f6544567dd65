package main

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/midbel/cli"

	"github.com/midbel/xquery/engine"
	"github.com/midbel/xquery/xquery"
)

var shellCmd = cli.Command{
	Name:    "shell",
	Summary: "evaluate queries interactively",
	Handler: &ShellCmd{},
}

type ShellCmd struct {
	Bindings
}

func (c *ShellCmd) Run(args []string) error {
	set := cli.NewFlagSet("shell")
	set.Func("var", "value of an external variable (name=value)", c.setVar)
	set.Func("doc", "document made available to fn:doc (uri=file)", c.setDoc)
	if err := set.Parse(args); err != nil {
		return err
	}
	env, err := setup()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := c.load(ctx, env.Engine.Store())
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(newShell(ctx, env, b)).Run()
	return err
}

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	queryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	infoStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	updateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type resultMsg struct {
	query string
	res   *engine.Result
	err   error
}

type shell struct {
	ctx      context.Context
	env      *Env
	bindings xquery.Bindings

	input   textinput.Model
	output  viewport.Model
	lines   []string
	history []string
	cursor  int
	running bool
	ready   bool
}

func newShell(ctx context.Context, env *Env, b xquery.Bindings) *shell {
	input := textinput.New()
	input.Prompt = promptStyle.Render("xq> ")
	input.Placeholder = "query, :stats, :docs, :clear or :quit"
	input.Focus()

	return &shell{
		ctx:      ctx,
		env:      env,
		bindings: b,
		input:    input,
		output:   viewport.New(),
	}
}

func (s *shell) Init() tea.Cmd {
	return nil
}

func (s *shell) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.output.SetWidth(msg.Width)
		s.output.SetHeight(max(msg.Height-2, 1))
		s.input.SetWidth(msg.Width - 6)
		s.ready = true
		s.refresh()
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return s, tea.Quit
		case "up":
			s.browse(-1)
			return s, nil
		case "down":
			s.browse(1)
			return s, nil
		case "enter":
			return s, s.submit()
		}
	case resultMsg:
		s.running = false
		s.print(msg)
	}
	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	cmds = append(cmds, cmd)
	s.output, cmd = s.output.Update(msg)
	cmds = append(cmds, cmd)
	return s, tea.Batch(cmds...)
}

func (s *shell) View() tea.View {
	if !s.ready {
		return tea.NewView("")
	}
	status := infoStyle.Render(fmt.Sprintf("%d queries", len(s.history)))
	if s.running {
		status = infoStyle.Render("running...")
	}
	v := tea.NewView(lipgloss.JoinVertical(lipgloss.Left, s.output.View(), status, s.input.View()))
	v.AltScreen = true
	return v
}

func (s *shell) submit() tea.Cmd {
	query := strings.TrimSpace(s.input.Value())
	s.input.Reset()
	if query == "" || s.running {
		return nil
	}
	s.history = append(s.history, query)
	s.cursor = len(s.history)

	switch query {
	case ":quit", ":q":
		return tea.Quit
	case ":clear":
		s.lines = s.lines[:0]
		s.refresh()
		return nil
	case ":stats":
		st := s.env.Engine.Cache().Stats()
		s.write(infoStyle.Render(fmt.Sprintf("compiled: %d, hits: %d, misses: %d, exhausted: %d, active: %d, idle: %d",
			st.Compiled, st.Hits, st.Misses, st.Exhausted, st.Active, st.Idle)))
		return nil
	case ":docs":
		list, err := s.env.Engine.Store().List(s.ctx)
		if err != nil {
			s.write(errorStyle.Render(err.Error()))
			return nil
		}
		for _, e := range list {
			s.write(infoStyle.Render(fmt.Sprintf("%s %s (%d bytes)", e.URI, e.Revision, e.Size)))
		}
		return nil
	}
	s.running = true
	req := engine.Request{
		Source:   query,
		Bindings: s.bindings,
	}
	return func() tea.Msg {
		res, err := s.env.Engine.Execute(s.ctx, req)
		return resultMsg{
			query: query,
			res:   res,
			err:   err,
		}
	}
}

func (s *shell) browse(dir int) {
	if len(s.history) == 0 {
		return
	}
	s.cursor = min(max(s.cursor+dir, 0), len(s.history))
	if s.cursor == len(s.history) {
		s.input.SetValue("")
		return
	}
	s.input.SetValue(s.history[s.cursor])
	s.input.CursorEnd()
}

func (s *shell) print(msg resultMsg) {
	s.write(queryStyle.Render("> " + msg.query))
	if msg.err != nil {
		var str strings.Builder
		printErrors(&str, msg.err)
		s.write(errorStyle.Render(strings.TrimSpace(str.String())))
		return
	}
	for _, line := range msg.res.Output() {
		s.write(line)
	}
	info := fmt.Sprintf("%s - %d items in %s", msg.res.Category, len(msg.res.Items), msg.res.Elapsed)
	if msg.res.Batch != nil {
		s.write(updateStyle.Render(fmt.Sprintf("%d updates applied (batch %s)", msg.res.Batch.Applied, msg.res.Batch.ID)))
	}
	s.write(infoStyle.Render(info))
}

func (s *shell) write(line string) {
	s.lines = append(s.lines, line)
	s.refresh()
}

func (s *shell) refresh() {
	s.output.SetContent(strings.Join(s.lines, "\n"))
	s.output.GotoBottom()
}
