package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/marketdata"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Market data maintenance",
	Long:  `Commands that fill the SQL bar store from CSV exports or the Eastmoney kline API.`,
}

var dataImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import <code>_<name>.csv files into the SQL store",
	Args:  cobra.NoArgs,
	RunE:  runDataImport,
}

var dataFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download daily bars from Eastmoney into the SQL store",
	Args:  cobra.NoArgs,
	RunE:  runDataFetch,
}

var (
	importCSVDir   string
	importEncoding string
	fetchSymbols   []string
	dataFrom       string
	dataTo         string
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataImportCmd)
	dataCmd.AddCommand(dataFetchCmd)

	dataCmd.PersistentFlags().StringVar(&dataFrom, "from", "", "Only bars on or after this date")
	dataCmd.PersistentFlags().StringVar(&dataTo, "to", "", "Only bars on or before this date")

	dataImportCmd.Flags().StringVar(&importCSVDir, "csv-dir", "", "Directory of CSV files (default: data.csv_dir)")
	dataImportCmd.Flags().StringVar(&importEncoding, "encoding", "", "CSV encoding: utf-8, gbk or gb18030 (default: data.csv_encoding)")

	dataFetchCmd.Flags().StringSliceVar(&fetchSymbols, "symbols", nil, "Symbols to download (default: backtest.symbols)")
}

// dataRange parses the optional --from/--to bounds; zero means open.
func dataRange() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if dataFrom != "" {
		if start, err = config.ParseDate(dataFrom); err != nil {
			return start, end, err
		}
	}
	if dataTo != "" {
		if end, err = config.ParseDate(dataTo); err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

func runDataImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	dir := cfg.Data.CSVDir
	if importCSVDir != "" {
		dir = importCSVDir
	}
	encoding := cfg.Data.CSVEncoding
	if importEncoding != "" {
		encoding = importEncoding
	}
	source, err := marketdata.NewCSVStore(dir, encoding, log)
	if err != nil {
		return err
	}
	return importInto(cmd.OutOrStdout(), cfg, source, log)
}

func runDataFetch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	symbols := cfg.Backtest.Symbols
	if len(fetchSymbols) > 0 {
		symbols = fetchSymbols
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass --symbols or set backtest.symbols")
	}

	source := marketdata.NewEastmoney(symbols, marketdata.EastmoneyConfig(cfg.Data.Eastmoney), log)
	return importInto(cmd.OutOrStdout(), cfg, source, log)
}

func importInto(out io.Writer, cfg *config.Config, source marketdata.Provider, log *zap.Logger) error {
	start, end, err := dataRange()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openSQLStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := marketdata.NewImporter(source, store, log).Import(ctx, start, end)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Fprintf(out, "Imported %d bars for %d instruments\n", stats.Bars, stats.Instruments)
	if len(stats.Failed) > 0 {
		fmt.Fprintf(out, "%d instruments failed: %v\n", len(stats.Failed), stats.Failed)
	}
	return nil
}
