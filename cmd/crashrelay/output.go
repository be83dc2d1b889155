package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/sznuper/crashrelay/internal/delivery"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func printOutcome(o delivery.Outcome, dryRun bool) {
	kind, message := "", ""
	if o.Fault != nil {
		kind, message = o.Fault.Class(), o.Fault.Message
	}

	if !o.Sent() {
		fmt.Printf("%s %s\n", failStyle.Render("✗"), message)
		printField("Kind", kind)
		printField("Error ("+o.ErrStage+")", o.Err.Error())
		return
	}

	verb := "Sent"
	if dryRun {
		verb = "Would send"
	}
	fmt.Printf("%s %s\n", okStyle.Render("✓"), message)
	printField("Kind", kind)
	printField("Context", o.Label)
	printField(verb, o.EventID)
	if o.Attached != "" {
		printField("Attachments", o.Attached)
	}
	printField("Took", o.Duration.Round(time.Millisecond).String())
}

func printField(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("  %s %s\n", labelStyle.Render(label+":"), value)
}
