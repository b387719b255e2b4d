package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/config"
	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/decks"
)

const listPageSize = 500

func newDecksCommand() *cobra.Command {
	decksCmd := &cobra.Command{
		Use:   "decks",
		Short: "Inspect and export decks",
	}
	decksCmd.AddCommand(newDecksListCommand(), newDecksExportCommand())
	return decksCmd
}

func newDecksListCommand() *cobra.Command {
	var format string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored decks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApplication(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			var all []decks.Deck
			for skip := 0; ; skip += listPageSize {
				page, err := app.Decks.List(cmd.Context(), decks.ListFilter{Format: format}, listPageSize, skip)
				if err != nil {
					return err
				}
				all = append(all, page.Decks...)
				if len(page.Decks) < listPageSize {
					break
				}
			}
			renderDeckTable(cmd.OutOrStdout(), all)
			return nil
		},
	}
	listCmd.Flags().StringVar(&format, "format", "", "Only list decks of this format")
	return listCmd
}

func renderDeckTable(out io.Writer, listed []decks.Deck) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Format", "Cards", "Updated"})
	for _, deck := range listed {
		total := 0
		for _, reference := range deck.Cards {
			total += reference.Quantity
		}
		t.AppendRow(table.Row{deck.Name, deck.Format, total, deck.UpdatedAt.Format("2006-01-02 15:04")})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d decks", len(listed))})
	t.Render()
}

func newDecksExportCommand() *cobra.Command {
	var decklist bool
	exportCmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export a deck as JSON or a plain-text decklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApplication(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			deck, err := app.Decks.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if decklist {
				text, err := app.Decks.ExportDecklist(cmd.Context(), deck.ID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, text)
				return err
			}

			export, err := app.Decks.ExportStructured(cmd.Context(), deck.ID)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(export)
		},
	}
	exportCmd.Flags().BoolVar(&decklist, "decklist", false, "Print \"<quantity> <name>\" lines instead of JSON")
	return exportCmd
}

func loadApplication(cmd *cobra.Command) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return newApplication(cmd.Context(), appConfig)
}
