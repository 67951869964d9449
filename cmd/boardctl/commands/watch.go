package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"realtime-board/internal/board"
	"realtime-board/internal/live"
)

var watchName string

var watchCmd = &cobra.Command{
	Use:   "watch <board-id>",
	Short: "Follow a board live",
	Long: `Join a board and print it every time it changes.

The board is redrawn on every card change, rename or presence update until
interrupted or until the board is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchName, "name", "boardctl", "Name shown to other participants")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := join(ctx, args[0], watchName)
	if err != nil {
		return err
	}
	defer r.Close()

	out := cmd.OutOrStdout()
	changed := make(chan struct{}, 1)
	deleted := make(chan struct{})

	unsubscribe := r.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	offEvent := r.OnEvent(func(ev board.Event) {
		if ev.Type == board.EventBoardDeleted {
			select {
			case <-deleted:
			default:
				close(deleted)
			}
		}
	})
	defer offEvent()

	renderBoard(out, r.Snapshot(), r.Others())
	lastStatus := r.Status()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deleted:
			warning("board %s was deleted", args[0])
			return nil
		case <-changed:
			if s := r.Status(); s != lastStatus {
				lastStatus = s
				if s != live.StatusConnected {
					warning("%s", s)
					continue
				}
			}
			renderBoard(out, r.Snapshot(), r.Others())
		}
	}
}
