package cmds

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/config"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/go-go-golems/verinews/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Verify claims in an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			// the terminal belongs to the UI, logs only go to the log file
			err = InitLogger(&LogConfig{
				Level:      viper.GetString("log-level"),
				LogFile:    viper.GetString("log-file"),
				LogFormat:  viper.GetString("log-format"),
				WithCaller: viper.GetBool("with-caller"),
				Quiet:      true,
			})
			if err != nil {
				return err
			}

			loadFile, _ := cmd.Flags().GetString("load")
			saveFile, _ := cmd.Flags().GetString("save")

			managerOptions := []conversation.ManagerOption{
				conversation.WithAutosave(settings.Autosave, "", settings.AutosaveDir),
			}
			if loadFile != "" {
				tree, err := conversation.LoadFromFile(loadFile)
				if err != nil {
					return err
				}
				managerOptions = append(managerOptions, conversation.WithTree(tree))
				if saveFile == "" {
					saveFile = loadFile
				}
			}

			router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
			if err != nil {
				return err
			}
			defer func() { _ = router.Close() }()

			session := chat.NewSession(settings.NewVerifier(nil),
				chat.WithManager(conversation.NewManager(managerOptions...)),
				chat.WithTimeout(settings.VerifyTimeout),
				chat.WithMaxClaimLength(settings.MaxClaimLength),
				chat.WithEventSinks(router.Sink()),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			programOptions := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				tty, err := ui.OpenTTY()
				if err != nil {
					return errors.Wrap(err, "opening terminal")
				}
				defer func() { _ = tty.Close() }()
				programOptions = append(programOptions, tea.WithInput(tty))
			}

			p := tea.NewProgram(
				ui.InitialModel(session, ui.WithSavePath(saveFile), ui.WithContext(ctx)),
				programOptions...,
			)

			router.AddHandler("ui-forward", events.TopicChatEvents, ui.ForwardChatEvents(p, session.ChatID))
			router.AddHandler("log", events.TopicChatEvents, router.LogEvents)

			eg := errgroup.Group{}
			eg.Go(func() error {
				defer cancel()
				return router.Run(ctx)
			})
			eg.Go(func() error {
				defer cancel()
				<-router.Running()
				_, err := p.Run()
				if errors.Is(err, tea.ErrProgramKilled) {
					return nil
				}
				return err
			})

			if err := eg.Wait(); err != nil {
				return err
			}

			if saveFile != "" && session.Snapshot().Len() > 0 {
				if err := session.Manager().SaveToFile(saveFile); err != nil {
					return err
				}
				log.Info().Str("file", saveFile).Msg("saved conversation")
			}
			return nil
		},
	}
	cmd.Flags().String("load", "", "Continue the conversation saved in this file")
	cmd.Flags().String("save", "", "Save the conversation to this file on exit and on ctrl+s (defaults to --load)")
	config.AddAutosaveFlags(cmd.Flags())
	return cmd
}
