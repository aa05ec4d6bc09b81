// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mellium.im/xmpp/jid"

	"mellium.im/xclient/srv"
)

func newLookupCmd(a *app) *cobra.Command {
	var hostMeta bool
	cmd := &cobra.Command{
		Use:   "lookup <domain>",
		Short: "Print the client endpoints of an XMPP service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, err := jid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid domain %q: %w", args[0], err)
			}
			domain = domain.Domain()

			var res *srv.Result
			if hostMeta {
				client := &http.Client{Timeout: 10 * time.Second}
				res, err = srv.LookupAll(cmd.Context(), net.DefaultResolver, client, domain.String())
			} else {
				res, err = srv.Lookup(cmd.Context(), net.DefaultResolver, domain.String())
			}
			if err != nil {
				return fmt.Errorf("lookup %s: %w", domain, err)
			}
			a.logger.Debug().Str("domain", res.Domain).Int("records", len(res.Records)).Msg("lookup done")

			out := cmd.OutOrStdout()
			if len(res.Records) == 0 {
				fmt.Fprintf(out, "%s does not offer client connections\n", domain)
			}
			for _, rec := range res.Records {
				fmt.Fprintln(out, rec)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hostMeta, "host-meta", false, "Also look up WebSocket and BOSH endpoints")
	return cmd
}
