package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"skuld/cli/style"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <target> <revision>",
	Short: "Deploy a revision to a target and watch the pipeline",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	target := args[0]
	revision := args[1]

	m := newDeployModel(target, revision)
	p := tea.NewProgram(m)
	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	dm := finalModel.(deployModel)
	if dm.failed {
		return fmt.Errorf("deploy failed")
	}
	return nil
}

// --- Messages ---

type wsMsg struct {
	Type    string          `json:"type"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

type stageUpdate struct {
	stage  string
	status string
}

type runFinished struct{ status string }
type deployFailed struct{ err string }
type deployStarted struct{ ch chan tea.Msg }
type wsError struct{ err error }

// --- Model ---

type deployModel struct {
	target    string
	revision  string
	spinner   spinner.Model
	stages    []stageState
	status    string // "connecting" | "deploying" | terminal run status
	errMsg    string
	failed    bool
	startTime time.Time
	eventCh   chan tea.Msg
}

type stageState struct {
	name   string
	status string // "pending" | "running" | "complete" | "failed"
}

var pipelineStages = []string{"build", "test", "package", "deploy", "verify"}

func newDeployModel(target, revision string) deployModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)

	stages := make([]stageState, len(pipelineStages))
	for i, name := range pipelineStages {
		stages[i] = stageState{name: name, status: "pending"}
	}

	return deployModel{
		target:    target,
		revision:  revision,
		spinner:   s,
		stages:    stages,
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m deployModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		connectAndDeploy(m.target, m.revision),
	)
}

func (m deployModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case deployStarted:
		m.status = "deploying"
		m.eventCh = msg.ch
		return m, waitForEvent(m.eventCh)

	case stageUpdate:
		found := false
		for i := range m.stages {
			if m.stages[i].name == msg.stage {
				m.stages[i].status = msg.status
				found = true
				break
			}
		}
		// A rollback stage appears mid-run, not in the standard list.
		if !found {
			m.stages = append(m.stages, stageState{name: msg.stage, status: msg.status})
		}
		return m, waitForEvent(m.eventCh)

	case runFinished:
		m.status = msg.status
		if msg.status != "succeeded" {
			m.failed = true
		}
		return m, tea.Quit

	case deployFailed:
		m.status = "failed"
		m.errMsg = msg.err
		m.failed = true
		return m, tea.Quit

	case wsError:
		m.status = "failed"
		m.errMsg = msg.err.Error()
		m.failed = true
		return m, tea.Quit
	}

	return m, nil
}

func (m deployModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("⚡ SKULD DEPLOY"))
	b.WriteString("\n")

	b.WriteString(style.Key.Render("Target"))
	b.WriteString(style.Bold.Render(m.target))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("Revision"))
	b.WriteString(style.VersionText.Render(shortRev(m.revision)))
	b.WriteString("\n\n")

	for _, stage := range m.stages {
		name := padRight(stage.name, 10)

		switch stage.status {
		case "pending":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.DimText.Render(name), style.DimText.Render("waiting")))
		case "running":
			b.WriteString(fmt.Sprintf("  %s %s %s\n", style.StageRunning.Render(name), m.spinner.View(), style.StageRunning.Render("running")))
		case "complete":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StageDone.Render(name), style.StageDone.Render("✓ done")))
		case "failed":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StageFailed.Render(name), style.StageFailed.Render("✗ failed")))
		}
	}

	b.WriteString("\n")

	elapsed := time.Since(m.startTime).Round(time.Second)

	switch m.status {
	case "connecting":
		b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to API..."))
	case "deploying":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Pipeline running... (%s)", elapsed)))
	case "succeeded":
		b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ Deploy completed in %s", elapsed)))
	case "rolled_back":
		b.WriteString(style.ErrorBox.Render(fmt.Sprintf("✗ Deploy failed, rolled back to prior version (%s)", elapsed)))
	default:
		msg := "Deploy failed"
		if m.errMsg != "" {
			msg = fmt.Sprintf("Deploy failed: %s", m.errMsg)
		}
		b.WriteString(style.ErrorBox.Render("✗ " + msg))
	}

	b.WriteString("\n")
	return b.String()
}

// --- Commands ---

// connectAndDeploy opens the WebSocket before triggering the deploy so
// no stage events are missed, then feeds events to the model.
func connectAndDeploy(target, revision string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(target), nil)
		if err != nil {
			return wsError{err: fmt.Errorf("websocket connect: %w", err)}
		}

		if err := client.Deploy(target, revision); err != nil {
			conn.Close()
			return wsError{err: err}
		}

		ch := make(chan tea.Msg, 32)
		go func() {
			defer conn.Close()
			defer close(ch)

			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					ch <- wsError{err: fmt.Errorf("websocket read: %w", err)}
					return
				}

				var event wsMsg
				if err := json.Unmarshal(message, &event); err != nil {
					continue
				}
				if event.Target != target {
					continue
				}

				switch event.Type {
				case "run.stage":
					var p struct {
						Stage  string `json:"stage"`
						Status string `json:"status"`
					}
					if err := json.Unmarshal(event.Payload, &p); err != nil {
						continue
					}
					ch <- stageUpdate{stage: p.Stage, status: p.Status}
				case "run.status":
					var p struct {
						Status string `json:"status"`
					}
					if err := json.Unmarshal(event.Payload, &p); err != nil {
						continue
					}
					ch <- runFinished{status: p.Status}
					return
				}
			}
		}()

		return deployStarted{ch: ch}
	}
}

// waitForEvent reads the next event from the channel.
func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return runFinished{status: "succeeded"}
		}
		return msg
	}
}
