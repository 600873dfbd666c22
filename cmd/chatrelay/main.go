package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatrelay/cmd/chatrelay/servecmder"
)

const rootLongDesc string = `chatrelay relays chat messages to the DeepSeek chat-completions API.

It exposes the same relay through a REST endpoint and a GraphQL endpoint.
Conversation history is owned by the client and sent with every message.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "DeepSeek chat relay with REST and GraphQL surfaces",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(servecmder.NewEdgeCmd())

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		stop()
		os.Exit(1)
	}
}
