package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/kekekebot/kekeke-go/frame"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a raw frame read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return describeFrame(cmd.OutOrStdout(), string(raw))
	},
}

// describeFrame prints the type, attributes and indented payload of raw.
func describeFrame(w io.Writer, raw string) error {
	f, err := frame.Decode(strings.TrimLeft(raw, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "type: %s\n", f.Type)
	for _, a := range f.Attributes {
		fmt.Fprintf(w, "attr %s = %q\n", a.Key, a.Value)
	}
	if len(f.Payload) == 0 {
		fmt.Fprintln(w, "payload: none")
		return nil
	}
	fmt.Fprintf(w, "payload:\n%s", pretty.Pretty(f.Payload))
	return nil
}
