// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage persisted stream management state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions with resumable state",
			Args:  cobra.NoArgs,
			RunE:  a.runStateList,
		},
		&cobra.Command{
			Use:   "show <key>",
			Short: "Show the resumable state of a session",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runStateShow,
		},
		&cobra.Command{
			Use:   "clear <key>",
			Short: "Discard the resumable state of a session",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runStateClear,
		},
	)
	return cmd
}

func (a *app) runStateList(cmd *cobra.Command, _ []string) error {
	s, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	states, err := s.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, st := range states {
		deadline := "-"
		if !st.Deadline.IsZero() {
			deadline = st.Deadline.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s\t%s\tunacked=%d\tdeadline=%s\n", st.Key, st.ResumptionID, len(st.Queue), deadline)
	}
	return nil
}

func (a *app) runStateShow(cmd *cobra.Command, args []string) error {
	s, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	st, err := s.Load(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("show %s: %w", args[0], err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func (a *app) runStateClear(cmd *cobra.Command, args []string) error {
	s, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("clear %s: %w", args[0], err)
	}
	a.logger.Info().Str("key", args[0]).Msg("cleared resumption state")
	return nil
}
