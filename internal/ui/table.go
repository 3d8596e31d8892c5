package ui

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is what the summary table shows once the peer exits.
type CallSummary struct {
	Room         string
	Status       string
	Calls        int
	Duration     string
	ChatSent     int
	ChatReceived int
	ScreenShares int
	Error        string
}

func CallSummaryView(title string, summary CallSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Options.SeparateRows = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: text.Colors{text.Bold}},
	})

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", summary.Room},
		{"Status", summary.Status},
		{"Calls", summary.Calls},
		{"Connected for", summary.Duration},
		{"Chat sent", summary.ChatSent},
		{"Chat received", summary.ChatReceived},
		{"Screen shares", summary.ScreenShares},
	})
	if summary.Error != "" {
		t.AppendRow(table.Row{"Error", summary.Error})
	}

	return t.Render()
}

func RenderCallSummary(title string, summary CallSummary) {
	fmt.Fprintln(Output, CallSummaryView(title, summary))
}

// RoomInfoView announces the room a peer created or joined.
func RoomInfoView(roomID, relay string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Room ready\n\n", IconSuccess)
	fmt.Fprintf(&b, "%s Room ID:  %s\n", IconCopy, BoldStyle.Foreground(Primary).Render(roomID))
	fmt.Fprintf(&b, "%s Relay:    %s", IconWeb, MutedStyle.Render(relay))
	return RoomBoxStyle.Render(b.String())
}

func RenderRoomInfo(roomID, relay string) {
	fmt.Fprintln(Output, RoomInfoView(roomID, relay))
}
