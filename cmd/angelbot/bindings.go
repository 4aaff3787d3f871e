package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// printBindings lists registered participants first, then those who have
// not started the bot yet.
func printBindings(w io.Writer, participants []domain.Participant) error {
	var registered, pending []domain.Participant
	for _, p := range participants {
		if p.Registered() {
			registered = append(registered, p)
		} else {
			pending = append(pending, p)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "USERNAME\tSTATUS\tCHAT ID\n")
	for _, p := range registered {
		fmt.Fprintf(tw, "%s\tregistered\t%d\n", p.Username, p.ChatID)
	}
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\tnot started\t-\n", p.Username)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d of %d participants registered\n", len(registered), len(participants))
	return err
}
