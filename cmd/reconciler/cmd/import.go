package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/models"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/parsers"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	declaredFiles   []string
	depositFiles    []string
	settlementFiles []string
	importWorkers   int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load declared totals, deposits and settlements into the database",
	Long: `Import reads already-normalized CSV or XLSX files and stores them.

Declared files hold one row per plant day with the controller totals.
Deposit files hold the cash deposits seen by the bank. Settlement files hold
card, voucher, wallet and credit settlements; append =<channel> to a path
when the file has no channel column.

Re-importing a plant day replaces its deposits and settlements.

Examples:
  reconciler import --declared fortech_gennaio.xlsx
  reconciler import --deposits as400.csv --settlements numia.csv=bank_card
  reconciler import --settlements ip_carte.xlsx=fuel_card --settlements ip_buoni.xlsx=voucher`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringSliceVar(&declaredFiles, "declared", nil, "declared totals files")
	importCmd.Flags().StringSliceVar(&depositFiles, "deposits", nil, "cash deposit files")
	importCmd.Flags().StringArrayVar(&settlementFiles, "settlements", nil, "settlement file, optionally followed by =<channel>")
	importCmd.Flags().IntVar(&importWorkers, "workers", 4, "files read at once")
}

// parseSettlementArg splits "path=channel"; a path without "=" leaves the
// channel to the file's channel column
func parseSettlementArg(arg string) (parsers.SettlementFile, error) {
	idx := strings.LastIndex(arg, "=")
	if idx < 0 {
		return parsers.SettlementFile{Path: arg}, nil
	}
	channel, err := models.ParseChannel(arg[idx+1:])
	if err != nil {
		return parsers.SettlementFile{}, errors.ValidationError(errors.CodeInvalidChannel, "settlements", arg, err).
			WithSuggestion("Use bank_card, fuel_card, voucher, wallet or credit after '='")
	}
	return parsers.SettlementFile{Path: arg[:idx], Channel: channel}, nil
}

func importFiles() (parsers.Files, error) {
	files := parsers.Files{Declared: declaredFiles, Deposits: depositFiles}
	for _, arg := range settlementFiles {
		sf, err := parseSettlementArg(arg)
		if err != nil {
			return parsers.Files{}, err
		}
		files.Settlements = append(files.Settlements, sf)
	}
	return files, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	files, err := importFiles()
	if err != nil {
		return err
	}

	parseConfig, err := appConfig.ParseConfig()
	if err != nil {
		return err
	}
	loader, err := parsers.NewLoader(parseConfig)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	importer, err := parsers.NewImporter(loader, store, importWorkers)
	if err != nil {
		return err
	}

	summary, err := importer.Import(ctx, files)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d plants, %d declared days, %d deposits, %d settlements in %v\n",
		summary.Plants, summary.Declared, summary.Deposits, summary.Settlements, summary.Duration.Round(time.Millisecond))

	var rejected []*errors.EnhancedParseError
	for _, stats := range summary.Stats {
		fmt.Fprintf(out, "  %s: %s\n", stats.File, stats.String())
		rejected = append(rejected, stats.Errors...)
	}
	if len(rejected) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d rows were rejected:\n%s\n", len(rejected), errors.FormatParseErrorsForUser(rejected))
	}
	return nil
}
