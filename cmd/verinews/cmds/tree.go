package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree FILE",
		Short: "Show a saved conversation: its branches and the current path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := conversation.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			return printTree(cmd.OutOrStdout(), tree, output)
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func printTree(w io.Writer, tree *conversation.ConversationTree, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(tree)
	case "text", "":
	default:
		return errors.Errorf("unknown output format %q", output)
	}

	if tree.Len() == 0 {
		_, err := fmt.Fprintln(w, "empty conversation")
		return err
	}

	onPath := map[conversation.NodeID]bool{}
	for _, id := range tree.CurrentPath {
		onPath[id] = true
	}

	fmt.Fprintf(w, "%d messages, version %d\n\n", tree.Len(), tree.Version)
	writeBranch(w, tree, tree.RootID, 0, onPath)

	fmt.Fprintln(w, "\nCurrent path:")
	for _, msg := range conversation.Project(tree) {
		if msg.IsUser() {
			fmt.Fprintf(w, "\n> %s\n", msg.Text)
			continue
		}
		fmt.Fprintf(w, "\n%s\n", ui.RenderResult(msg.Result, ui.RenderOptions{MaxSources: 3}))
	}
	return nil
}

// writeBranch prints id and its descendants, marking the current path with *.
func writeBranch(w io.Writer, tree *conversation.ConversationTree, id conversation.NodeID, depth int, onPath map[conversation.NodeID]bool) {
	msg, ok := tree.GetMessageByID(id)
	if !ok {
		return
	}
	marker := " "
	if onPath[id] {
		marker = "*"
	}

	var label string
	if msg.IsUser() {
		label = fmt.Sprintf("user [%s] %q", msg.Status, msg.Text)
	} else if msg.Result != nil {
		label = fmt.Sprintf("verdict %s (%.0f%%) %q", msg.Result.Verdict, msg.Result.Confidence, msg.Result.Conclusion)
	} else {
		label = "verdict"
	}
	fmt.Fprintf(w, "%s %s%s  %s\n", marker, strings.Repeat("  ", depth), label, humanize.Time(msg.Time))

	for _, child := range msg.Children {
		writeBranch(w, tree, child, depth+1, onPath)
	}
}
