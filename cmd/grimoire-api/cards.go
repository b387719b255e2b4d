package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/grimoire/backend/internal/config"
)

func newCardsCommand() *cobra.Command {
	cardsCmd := &cobra.Command{
		Use:   "cards",
		Short: "Manage the card catalog",
	}
	cardsCmd.AddCommand(newCardsImportCommand())
	return cardsCmd
}

func newCardsImportCommand() *cobra.Command {
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import cards by name, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			input := cmd.InOrStdin()
			if file != "" && file != "-" {
				handle, err := os.Open(file)
				if err != nil {
					return err
				}
				defer handle.Close()
				input = handle
			}
			names, err := readCardNames(input)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return fmt.Errorf("no card names in input")
			}

			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Catalog.ImportByNames(cmd.Context(), names)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "imported %d of %d cards\n", result.Success, result.Total)
			for _, failure := range result.Failures {
				fmt.Fprintf(out, "  failed %s: %s\n", failure.Key, failure.Error)
			}
			return nil
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "File with one card name per line (default stdin)")
	return importCmd
}

// readCardNames skips blank lines and lines starting with '#'.
func readCardNames(input io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read card names: %w", err)
	}
	return names, nil
}
