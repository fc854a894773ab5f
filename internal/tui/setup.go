// ABOUTME: Interactive TUI wizard for adding a sync account.
// ABOUTME: Bubbletea model that asks only the questions the chosen account type needs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/config"
)

// Step represents the current wizard step.
type Step int

const (
	StepType Step = iota
	StepName
	StepUsername
	StepEndpoint
	StepDone
)

// SetupModel is the bubbletea model for the account wizard.
type SetupModel struct {
	step     Step
	inputs   [4]textinput.Model
	errMsg   string
	quitting bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	brandStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newInput(placeholder, value string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Width = 50
	if value != "" {
		in.SetValue(value)
	}
	return in
}

// NewSetupModel creates a wizard pre-filled from ac.
func NewSetupModel(ac config.AccountConfig) SetupModel {
	m := SetupModel{
		step: StepType,
		inputs: [4]textinput.Model{
			newInput(string(account.TypeLocal), string(ac.Type)),
			newInput("On My Device", ac.Name),
			newInput("me@example.com", ac.Username),
			newInput("https://rss.example.com/api/greader.php", ac.Endpoint),
		},
	}
	m.inputs[StepType].Focus()
	return m
}

// Init implements tea.Model.
func (m SetupModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEscape:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.step < StepDone {
				return m.handleEnter()
			}
			return m, nil
		}
	}
	// Forward keys and cursor blinks to the active input
	if m.step < StepDone {
		var cmd tea.Cmd
		m.inputs[m.step], cmd = m.inputs[m.step].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m SetupModel) handleEnter() (tea.Model, tea.Cmd) {
	val := strings.TrimSpace(m.inputs[m.step].Value())
	m.errMsg = ""

	switch m.step {
	case StepType:
		if val == "" {
			val = string(account.TypeLocal)
		}
		t, ok := account.ParseType(strings.ToLower(val))
		if !ok {
			m.errMsg = fmt.Sprintf("unknown account type %q", val)
			return m, nil
		}
		m.inputs[StepType].SetValue(string(t))
	case StepUsername:
		if val == "" {
			m.errMsg = "a username is required"
			return m, nil
		}
	case StepEndpoint:
		if val == "" && m.accountType() == account.TypeReaderAPI {
			m.errMsg = "readerapi accounts need an endpoint"
			return m, nil
		}
	}
	m.inputs[m.step].SetValue(val)
	m.inputs[m.step].Blur()

	m.step = m.next()
	if m.step == StepDone {
		return m, tea.Quit
	}
	m.inputs[m.step].Focus()
	return m, textinput.Blink
}

// next skips the questions the chosen type does not need.
func (m SetupModel) next() Step {
	t := m.accountType()
	switch m.step {
	case StepType:
		return StepName
	case StepName:
		if t == account.TypeFeedbin || t == account.TypeReaderAPI {
			return StepUsername
		}
		if t == account.TypeFeedly {
			return StepEndpoint
		}
	case StepUsername:
		return StepEndpoint
	}
	return StepDone
}

func (m SetupModel) accountType() account.Type {
	return account.Type(m.inputs[StepType].Value())
}

func (m SetupModel) totalSteps() int {
	switch m.accountType() {
	case account.TypeLocal:
		return 2
	case account.TypeFeedly:
		return 3
	}
	return 4
}

// View implements tea.Model.
func (m SetupModel) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(brandStyle.Render("   FEEDSYNC"))
	b.WriteString(titleStyle.Render(" - Add Account"))
	b.WriteString("\n\n")

	step := func(n int, title, hint string) {
		b.WriteString(stepStyle.Render(fmt.Sprintf("Step %d of %d: %s", n, m.totalSteps(), title)))
		b.WriteString("\n")
		b.WriteString(promptStyle.Render(hint))
		b.WriteString("\n")
		b.WriteString(m.inputs[m.step].View())
		b.WriteString("\n")
	}

	switch m.step {
	case StepType:
		b.WriteString(stepStyle.Render("Step 1: Account Type"))
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("(local, feedbin, readerapi or feedly, press Enter for local)"))
		b.WriteString("\n")
		b.WriteString(m.inputs[StepType].View())
		b.WriteString("\n")
	case StepName:
		fmt.Fprintf(&b, "  Type: %s\n\n", m.accountType())
		step(2, "Display Name", "(press Enter to use the default)")
	case StepUsername:
		fmt.Fprintf(&b, "  Type: %s\n\n", m.accountType())
		step(3, "Username", "(the email or login for the service)")
	case StepEndpoint:
		fmt.Fprintf(&b, "  Type: %s\n\n", m.accountType())
		n := 4
		if m.accountType() == account.TypeFeedly {
			n = 3
		}
		step(n, "API Endpoint", "(press Enter for the service default)")
	case StepDone:
		ac := m.Result()
		b.WriteString(successStyle.Render("Account details collected."))
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "  Type:      %s\n", ac.Type)
		if ac.Name != "" {
			fmt.Fprintf(&b, "  Name:      %s\n", ac.Name)
		}
		if ac.Username != "" {
			fmt.Fprintf(&b, "  Username:  %s\n", ac.Username)
		}
		if ac.Endpoint != "" {
			fmt.Fprintf(&b, "  Endpoint:  %s\n", ac.Endpoint)
		}
		b.WriteString("\n")
	}

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render(m.errMsg))
		b.WriteString("\n")
	}
	return b.String()
}

// Result returns the entered account settings. Answers for skipped
// steps are dropped.
func (m SetupModel) Result() config.AccountConfig {
	ac := config.AccountConfig{
		Type: m.accountType(),
		Name: strings.TrimSpace(m.inputs[StepName].Value()),
	}
	switch ac.Type {
	case account.TypeFeedbin, account.TypeReaderAPI:
		ac.Username = strings.TrimSpace(m.inputs[StepUsername].Value())
		ac.Endpoint = strings.TrimSpace(m.inputs[StepEndpoint].Value())
	case account.TypeFeedly:
		ac.Endpoint = strings.TrimSpace(m.inputs[StepEndpoint].Value())
	}
	return ac
}

// ShouldSave returns true if the wizard completed and the user did not cancel.
func (m SetupModel) ShouldSave() bool {
	return m.step == StepDone && !m.quitting
}
