package cmds

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/config"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// ErrVerificationFailed makes the process exit non-zero when the verdict is
// an error verdict.
var ErrVerificationFailed = errors.New("verification failed")

// loadSettings binds the flags of cmd and decodes the settings.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return config.FromViper(viper.GetViper())
}

func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [claim...]",
		Short: "Verify a single claim",
		Long:  "Verify a single claim. Without arguments the claim is read from stdin, or asked for when stdin is a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			s := chat.NewSession(settings.NewVerifier(nil),
				chat.WithTimeout(settings.VerifyTimeout),
				chat.WithMaxClaimLength(settings.MaxClaimLength),
			)

			claim := strings.Join(args, " ")
			if claim == "" {
				if isatty.IsTerminal(os.Stdin.Fd()) {
					claim, err = askClaim(s)
				} else {
					var b []byte
					b, err = io.ReadAll(bufio.NewReader(os.Stdin))
					claim = string(b)
				}
				if err != nil {
					return errors.Wrap(err, "reading claim")
				}
			}

			tree, err := s.Submit(cmd.Context(), claim)
			if err != nil {
				return err
			}

			messages := conversation.Project(tree)
			verdict := messages[len(messages)-1]

			output, _ := cmd.Flags().GetString("output")
			if err := printResult(cmd.OutOrStdout(), verdict, output); err != nil {
				return err
			}
			if messages[0].Status == conversation.StatusError {
				return ErrVerificationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

// askClaim prompts on the terminal until the answer is an acceptable claim.
func askClaim(s *chat.Session) (string, error) {
	tty, err := ui.OpenTTY()
	if err != nil {
		return "", err
	}
	defer func() { _ = tty.Close() }()

	prompt := &input.UI{
		Writer: tty,
		Reader: tty,
	}
	return prompt.Ask("Claim to verify", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(answer string) error {
			_, err := s.ValidateClaim(answer)
			return err
		},
	})
}

func printResult(w io.Writer, msg *conversation.Message, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msg.Result)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(msg.Result)
	case "text", "":
		styled := false
		width := 80
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			styled = true
			if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
				width = tw
			}
		}
		_, err := fmt.Fprintln(w, ui.RenderResult(msg.Result, ui.RenderOptions{Width: width, Styled: styled}))
		return err
	default:
		return errors.Errorf("unknown output format %q", output)
	}
}
