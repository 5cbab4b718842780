package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/model"
)

var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func typeColor(t model.NodeType) *color.Color {
	switch t {
	case model.NodeTypeQuestion:
		return cyan
	case model.NodeTypeAnswer:
		return green
	default:
		return yellow
	}
}

// PrintMessage prints one transcript entry with its role and status
func PrintMessage(w io.Writer, msg model.ChatMessage) {
	if msg.Role == model.RoleUser {
		bold.Fprint(w, "you> ")
		fmt.Fprintln(w, msg.Content)
		return
	}

	switch msg.Status {
	case model.StatusError:
		red.Fprint(w, "map> ")
		red.Fprintln(w, msg.Content)
	case model.StatusPending:
		faint.Fprint(w, "map> ")
		faint.Fprintln(w, msg.Content)
	default:
		green.Fprint(w, "map> ")
		fmt.Fprintln(w, msg.Content)
	}

	if len(msg.Keywords) > 0 {
		yellow.Fprintf(w, "     keywords: %s\n", strings.Join(msg.Keywords, ", "))
	}
}

// PrintTranscript prints the whole conversation in order
func PrintTranscript(w io.Writer, msgs []model.ChatMessage) {
	bold.Fprintln(w, "Conversation")
	bold.Fprintln(w, "============")
	if len(msgs) == 0 {
		faint.Fprintln(w, "(no messages yet)")
		return
	}
	for _, msg := range msgs {
		PrintMessage(w, msg)
	}
}

// PrintFocus prints the focused node and its neighbors
func PrintFocus(w io.Writer, focus *model.FocusContext) {
	if focus == nil || focus.Node == nil {
		faint.Fprintln(w, "No node in focus")
		return
	}

	bold.Fprint(w, "Focus: ")
	typeColor(focus.Node.Type).Fprintf(w, "%s", focus.Node.Label)
	faint.Fprintf(w, " [%s %s]\n", focus.Node.Type, focus.Node.ID)

	if len(focus.Neighbors) == 0 {
		faint.Fprintln(w, "  (no neighbors)")
		return
	}
	for _, n := range focus.Neighbors {
		fmt.Fprint(w, "  - ")
		typeColor(n.Type).Fprintf(w, "%s", n.Label)
		faint.Fprintf(w, " [%s]\n", n.ID)
	}
}

// PrintStats prints a one-screen summary of the graph
func PrintStats(w io.Writer, stats graph.Stats) {
	bold.Fprintln(w, "Knowledge map")
	fmt.Fprintf(w, "Nodes: %d (question %d, answer %d, keyword %d)\n",
		stats.Nodes,
		stats.ByType[string(model.NodeTypeQuestion)],
		stats.ByType[string(model.NodeTypeAnswer)],
		stats.ByType[string(model.NodeTypeKeyword)],
	)
	fmt.Fprintf(w, "Links: %d\n", stats.Links)

	componentColor := green
	if stats.Components > 1 {
		componentColor = yellow
	}
	componentColor.Fprintf(w, "Components: %d\n", stats.Components)

	if stats.Isolated > 0 {
		yellow.Fprintf(w, "Isolated nodes: %d\n", stats.Isolated)
	}
	if stats.Dangling > 0 {
		red.Fprintf(w, "Dangling links: %d\n", stats.Dangling)
	}
	if len(stats.Loops) > 0 {
		cyan.Fprintf(w, "Loops: %d\n", len(stats.Loops))
	}
}
