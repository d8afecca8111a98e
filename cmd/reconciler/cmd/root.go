package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZENITH-cmd2/LavoroGiupponi/cmd/reconciler/config"
	"github.com/ZENITH-cmd2/LavoroGiupponi/internal/storage"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/errors"
	"github.com/ZENITH-cmd2/LavoroGiupponi/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// appConfig is loaded before every command runs
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Plant daily revenue reconciliation",
	Long: `Reconciler checks, for every plant and business day, the takings declared
by the point-of-sale controller against bank deposits and the settlement
feeds of card, voucher, wallet and credit providers.

Typical workflow:
  reconciler migrate
  reconciler import --declared fortech.xlsx --deposits as400.csv \
    --settlements numia.csv=bank_card --settlements ip_portal.xlsx
  reconciler run --from 2025-01-01 --to 2025-01-31
  reconciler report --from 2025-01-01 --to 2025-01-31 --output-format html --output-file gennaio.html`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadAppConfig,
}

// Execute runs the CLI and returns the process exit code. An interrupt
// cancels the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver: sqlite3 or postgres")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func loadAppConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check that the config file exists and is valid YAML, JSON or TOML")
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LoggerConfig(viper.GetBool("verbose")))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Level, err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}

	appConfig = cfg
	return nil
}

// openStore connects to the configured database
func openStore(ctx context.Context) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, appConfig.Database)
	if err != nil {
		return nil, errors.StorageError(errors.CodeConnectionFailed, "open database", err).
			WithContext("database", appConfig.Database.String())
	}
	return store, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
