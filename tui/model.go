package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/go-authgate/tapcard-cli/api"
	"github.com/go-authgate/tapcard-cli/session"
)

// state represents the current phase of a command.
type state int

const (
	stateInit    state = iota
	stateLoading       // API call or sign-in in flight
	stateSuccess       // all done
	stateError         // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the CLI commands.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	loading string
	errMsg  string

	// result is the rendered panel shown once the command succeeds.
	result string

	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleAmountBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold   = lipgloss.NewStyle().Bold(true)
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case MsgBanner:
		return m, nil

	case MsgSessionResolved:
		kind := statusInfo
		switch msg.Status {
		case session.Authenticated:
			kind = statusOK
		case session.Expired:
			kind = statusWarn
		}
		m.addStatus(kind, statusText(msg.Status, msg.Name))
		return m, nil

	case MsgSessionExpired:
		m.addStatus(statusWarn, fmt.Sprintf("Session expired: %s", msg.Reason))
		return m, nil

	case MsgSigningIn:
		m.state = stateLoading
		m.loading = "Signing in as " + msg.Email
		return m, nil

	case MsgSignedIn:
		m.addStatus(statusOK, fmt.Sprintf("Signed in as %s (%s)", displayName(msg.Name), msg.Provider))
		if msg.SavedTo != "" {
			m.addStatus(statusOK, "Session saved to "+msg.SavedTo)
		}
		return m, nil

	case MsgSignedOut:
		m.addStatus(statusOK, "Signed out")
		return m, nil

	case MsgResetRequested:
		m.addStatus(statusOK, "Password reset requested for "+msg.Email)
		return m, nil

	case MsgLoading:
		m.state = stateLoading
		m.loading = "Loading " + msg.What
		return m, nil

	case MsgProfile:
		m.result = renderProfile(msg.Profile)
		return m, nil

	case MsgBalance:
		m.result = renderBalance(msg.Balance)
		return m, nil

	case MsgCards:
		m.result = renderCards(msg.Cards)
		return m, nil

	case MsgCardUpdated:
		m.addStatus(statusOK, fmt.Sprintf("Card %s is now %s", msg.Card.ID, cardState(msg.Card)))
		return m, nil

	case MsgTransactions:
		m.result = renderTransactions(msg.Page)
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgDone:
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  TapCard  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	if m.state == stateLoading && m.loading != "" {
		b.WriteString(" " + m.loading + "...\n")
	} else {
		b.WriteString(" Checking session...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  TapCard  "))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	if m.result != "" {
		b.WriteString("\n")
		b.WriteString(m.result)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

func renderProfile(p api.Profile) string {
	return newTable("Field", "Value").Rows(
		[]string{"Name", displayName(profileName(p))},
		[]string{"Email", p.Email},
		[]string{"ID", p.ID},
	).Render()
}

func renderBalance(bal api.Balance) string {
	var b strings.Builder
	b.WriteString(styleBold.Render("Balance"))
	b.WriteString("\n")
	b.WriteString(styleAmountBox.Render("  " + bal.Format() + "  "))
	if !bal.UpdatedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Updated " + bal.UpdatedAt.Local().Format(dateLayout)))
	}
	return b.String()
}

func renderCards(cards []api.Card) string {
	if len(cards) == 0 {
		return styleDim.Render("No cards linked.")
	}
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, []string{c.ID, c.Label, c.UID, cardState(c)})
	}
	return newTable("ID", "Label", "UID", "State").Rows(rows...).Render()
}

func renderTransactions(page api.TransactionPage) string {
	rows := make([][]string, 0, len(page.Items))
	for _, tx := range page.Items {
		rows = append(rows, []string{
			tx.CreatedAt.Local().Format(dateLayout),
			tx.Kind,
			tx.Format(),
			tx.Description,
		})
	}
	var b strings.Builder
	b.WriteString(newTable("Date", "Kind", "Amount", "Description").Rows(rows...).Render())
	b.WriteString("\n")
	b.WriteString(styleDim.Render(fmt.Sprintf("Page %d of %d", page.Page, page.TotalPages)))
	return b.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleDim).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})
}
