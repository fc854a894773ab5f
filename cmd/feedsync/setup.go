// ABOUTME: Cobra command for interactive account setup.
// ABOUTME: Launches a bubbletea TUI wizard, then adds the account it describes.
package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Add an account interactively",
	Long:  "Interactive wizard that asks for an account type and its details, then adds it like 'account add'.",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(tui.NewSetupModel(config.AccountConfig{}), tea.WithContext(cmd.Context()))
	result, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	final := result.(tui.SetupModel)
	if !final.ShouldSave() {
		fmt.Println("Setup canceled.")
		return nil
	}
	return addAccount(cmd, final.Result())
}
