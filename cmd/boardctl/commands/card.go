package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"realtime-board/internal/board"
	"realtime-board/internal/live"
)

var (
	cardX    float64
	cardY    float64
	cardText string
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Change cards on a board",
}

var cardAddCmd = &cobra.Command{
	Use:   "add <board-id>",
	Short: "Add a card centered on --x/--y",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(args[0], func(r *live.Replica) error {
			id, err := r.CreateCard(board.Point{X: cardX, Y: cardY})
			if err != nil {
				return err
			}
			if cardText != "" {
				if err := r.InputCardContent(id, cardText); err != nil {
					return err
				}
				r.BlurCard()
			}
			success("added card %s", id)
			return nil
		})
	},
}

var cardMoveCmd = &cobra.Command{
	Use:   "move <board-id> <card-id> <x> <y>",
	Short: "Move a card",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fail("invalid x", err.Error())
		}
		y, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fail("invalid y", err.Error())
		}
		return withCard(args[0], args[1], func(r *live.Replica) error {
			return r.MoveCard(args[1], x, y)
		})
	},
}

var cardDeleteCmd = &cobra.Command{
	Use:   "delete <board-id> <card-id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(args[0], args[1], func(r *live.Replica) error {
			return r.DeleteCard(args[1])
		})
	},
}

var cardFrontCmd = &cobra.Command{
	Use:   "front <board-id> <card-id>",
	Short: "Bring a card to the front",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(args[0], args[1], func(r *live.Replica) error {
			return r.BringToFront(args[1])
		})
	},
}

var cardBackCmd = &cobra.Command{
	Use:   "back <board-id> <card-id>",
	Short: "Send a card to the back",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(args[0], args[1], func(r *live.Replica) error {
			return r.BringToBack(args[1])
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <board-id> <name>",
	Short: "Rename a board",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(args[0], func(r *live.Replica) error {
			if err := r.SetBoardName(args[1]); err != nil {
				return err
			}
			success("renamed board to %q", args[1])
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <board-id>",
	Short: "Print a board once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(args[0], func(r *live.Replica) error {
			renderBoard(cmd.OutOrStdout(), r.Snapshot(), r.Others())
			return nil
		})
	},
}

func init() {
	cardAddCmd.Flags().Float64Var(&cardX, "x", 0, "Center x")
	cardAddCmd.Flags().Float64Var(&cardY, "y", 0, "Center y")
	cardAddCmd.Flags().StringVar(&cardText, "text", "", "Card content (HTML is sanitized)")

	cardCmd.AddCommand(cardAddCmd, cardMoveCmd, cardDeleteCmd, cardFrontCmd, cardBackCmd)
	rootCmd.AddCommand(cardCmd, renameCmd, showCmd)
}

// withBoard joins the board, runs fn and waits for its changes to be
// acknowledged before leaving.
func withBoard(boardID string, fn func(r *live.Replica) error) error {
	ctx := context.Background()
	r, err := join(ctx, boardID, "boardctl", live.WithoutReconnect())
	if err != nil {
		return err
	}
	defer r.Close()

	if err := fn(r); err != nil {
		return err
	}
	if err := waitSynced(ctx, r); err != nil {
		return fail("changes were not saved", err.Error())
	}
	return nil
}

func withCard(boardID, cardID string, fn func(r *live.Replica) error) error {
	return withBoard(boardID, func(r *live.Replica) error {
		if _, ok := r.Card(cardID); !ok {
			return fail("card not found", fmt.Sprintf("Board %s has no card %s.", boardID, cardID))
		}
		if err := fn(r); err != nil {
			return err
		}
		success("done")
		return nil
	})
}
