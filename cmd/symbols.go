package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/backtest-sim/backtest-sim/sim/prices"
)

var (
	// CLI flags for the symbols command
	catalogOut    string // Catalog file to write
	corruptedPath string // File listing symbols to skip, one per line
)

// symbolsCmd builds the symbol catalog from price files on disk
var symbolsCmd = &cobra.Command{
	Use:   "symbols PATTERN...",
	Short: "Build the symbol catalog from price files",
	Long: `Scan the price files matching each PATTERN and write every symbol's
first and last timestamps to the catalog.

Each PATTERN must contain exactly one "*" marking the symbol in the path.
Earlier patterns take precedence over later ones, e.g.

  backtest-sim symbols 'resources/gemini_*USD_2019_1min.csv' 'resources/*_daily_bars.csv'`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		exclude, err := readSymbolList(corruptedPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		catalog, failed, err := prices.BuildCatalog(args, exclude)
		if err != nil {
			logrus.Fatalf("Building catalog: %v", err)
		}
		if err := writeCatalog(catalogOut, catalog); err != nil {
			logrus.Fatalf("%v", err)
		}
		for _, name := range failed {
			fmt.Printf("Error reading data files for %s\n", name)
		}
		fmt.Printf("Wrote %d symbols to %s\n", catalog.Len(), catalogOut)
	},
}

// readSymbolList reads one symbol per line. A missing file is an empty list.
func readSymbolList(path string) (map[string]bool, error) {
	out := make(map[string]bool)
	if path == "" {
		return out, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading symbol list: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			out[name] = true
		}
	}
	return out, sc.Err()
}

func writeCatalog(path string, c *prices.Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing catalog: %w", err)
	}
	return f.Close()
}

func init() {
	symbolsCmd.Flags().StringVar(&catalogOut, "out", prices.DefaultCatalogPath, "Catalog file to write")
	symbolsCmd.Flags().StringVar(&corruptedPath, "exclude", "resources/corrupted_files.txt", "File listing symbols to skip")
	symbolsCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
