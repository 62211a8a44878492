package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicebartender/relay-server/paircode"
)

var pairCmd = &cobra.Command{
	Use:   "paircode",
	Short: "Encode and decode pairing codes",
}

var pairEncodeCmd = &cobra.Command{
	Use:   "encode <server-url> <invite-code>",
	Short: "Build the one-paste pairing code for an invite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(paircode.Encode(args[0], args[1]))
		return nil
	},
}

var pairDecodeCmd = &cobra.Command{
	Use:   "decode <code>",
	Short: "Show the server URL and invite inside a pairing code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, invite, err := paircode.Decode(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("server %s\ninvite %s\n", url, invite)
		return nil
	},
}

func init() {
	pairCmd.AddCommand(pairEncodeCmd, pairDecodeCmd)
	rootCmd.AddCommand(pairCmd)
}
