// velocity-cli is the command-line client for a running engine.
//
//	velocity-cli buy    --price 100 --quantity 10 --user-id 1
//	velocity-cli sell   --price 101 --quantity 5  --user-id 2
//	velocity-cli cancel --order-id 42 --user-id 1
//	velocity-cli depth  --limit 10
//	velocity-cli watch
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"velocity/internal/api"
	"velocity/pkg/client"
	"velocity/pkg/types"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:           "velocity-cli",
		Short:         "Client for the Velocity matching engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "engine base URL")

	root.AddCommand(
		placeCmd("buy", types.Bid),
		placeCmd("sell", types.Ask),
		cancelCmd(),
		depthCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func placeCmd(use string, side types.Side) *cobra.Command {
	var price, quantity, userID, orderID uint64

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Place a %s limit order", side),
		RunE: func(cmd *cobra.Command, args []string) error {
			if orderID == 0 {
				orderID = rand.Uint64()
			}
			fmt.Printf("sending %s order id=%d\n", side, orderID)

			resp, err := client.New(serverURL).PlaceOrder(cmd.Context(), api.PlaceOrderRequest{
				UserID:   userID,
				OrderID:  orderID,
				Side:     side.String(),
				Price:    price,
				Quantity: quantity,
			})
			if err != nil {
				return err
			}

			fmt.Printf("success=%v message=%q\n", resp.Success, resp.Message)
			for _, fill := range resp.Fills {
				fmt.Printf("  filled %d @ %d against order %d\n", fill.Quantity, fill.Price, fill.MakerOrderID)
			}
			return nil
		},
	}

	cmd.Flags().Uint64VarP(&price, "price", "p", 0, "limit price in ticks")
	cmd.Flags().Uint64VarP(&quantity, "quantity", "q", 0, "quantity in base units")
	cmd.Flags().Uint64VarP(&userID, "user-id", "u", 1, "user id")
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "order id (0 = random)")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("quantity")
	return cmd
}

func cancelCmd() *cobra.Command {
	var userID, orderID uint64

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a resting order",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.New(serverURL).CancelOrder(cmd.Context(), api.CancelOrderRequest{
				UserID:  userID,
				OrderID: orderID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("cancelled=%v\n", resp.Success)
			return nil
		},
	}

	cmd.Flags().Uint64VarP(&orderID, "order-id", "o", 0, "order id to cancel")
	cmd.Flags().Uint64VarP(&userID, "user-id", "u", 1, "user id")
	cmd.MarkFlagRequired("order-id")
	return cmd
}

func depthCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "depth",
		Short: "Show the top of the order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.New(serverURL).Depth(cmd.Context(), limit)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== ORDER BOOK (top %d) ===\n", limit)
			fmt.Println("ASKS:")
			// Highest ask on top, standard ladder rendering.
			for i := len(resp.Asks) - 1; i >= 0; i-- {
				fmt.Printf("  price %6d | qty %6d\n", resp.Asks[i].Price, resp.Asks[i].Quantity)
			}
			fmt.Println("---------------------------")
			fmt.Println("BIDS:")
			for _, level := range resp.Bids {
				fmt.Printf("  price %6d | qty %6d\n", level.Price, level.Quantity)
			}
			fmt.Println("===========================")
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "levels per side")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live engine events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			return client.New(serverURL).Stream(ctx, func(frame api.EventFrame) error {
				switch frame.Type {
				case "trade_executed":
					fmt.Printf("TRADE  %d @ %d  maker=%d taker=%d\n",
						frame.Quantity, frame.Price, frame.MakerOrderID, frame.TakerOrderID)
				case "order_placed":
					fmt.Printf("PLACE  %s %d @ %d  order=%d user=%d\n",
						frame.Side, frame.Quantity, frame.Price, frame.OrderID, frame.UserID)
				case "order_cancelled":
					fmt.Printf("CANCEL order=%d\n", frame.OrderID)
				case "stream_lagged":
					fmt.Printf("LAGGED missed %d events, book view may be stale\n", frame.Dropped)
				}
				return nil
			})
		},
	}
}
