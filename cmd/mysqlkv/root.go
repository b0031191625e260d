package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrsteele09/go-mysqlstore/kvstore"
	"github.com/jrsteele09/go-mysqlstore/mysql"
)

const version = "0.1.0"

var (
	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "mysqlkv",
		Short: "key-value operations on a MySQL-backed store",
		Long: fmt.Sprintf(`mysqlkv (v%s)

A command line client for a key-value store backed by a MySQL-compatible
database over a single resilient connection. Connection settings come from
flags, MYSQLKV_* environment variables or a .env file.`, version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mysqlkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mysqlkv v%s\n", version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("host", "127.0.0.1", "database host")
	pf.Int("port", 3306, "database port")
	pf.String("user", "root", "database user")
	pf.String("password", "", "database password")
	pf.String("database", "", "database name")
	pf.String("table", kvstore.DefaultTable, "backing table name")
	pf.String("charset", kvstore.DefaultCharset, "connection character set")
	pf.Duration("query-timeout", kvstore.DefaultQueryTimeout, "per-statement timeout")
	pf.Duration("connect-timeout", 10*time.Second, "timeout for dialing the database")
	pf.Uint("retries", 0, "extra connection attempts before giving up")
	pf.Duration("retry-delay", time.Second, "delay between connection attempts")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(bulkCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig wires the environment into viper. .env files in the working
// directory are loaded first so that local setups need no exported variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	viper.SetEnvPrefix("MYSQLKV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupLogging configures the global zerolog logger from the log flags.
func setupLogging() error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", viper.GetString("log-level"), err)
	}
	zerolog.SetGlobalLevel(level)

	switch format := viper.GetString("log-format"); format {
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// openStore builds the driver and store from the bound flags and runs Init.
// Establishment retries live here and nowhere else: the store itself never
// redials on its own, so startup resilience is the client's policy.
func openStore(cmd *cobra.Command) (*kvstore.Store, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := setupLogging(); err != nil {
		return nil, err
	}

	cfg := mysql.DefaultConfig()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.User = viper.GetString("user")
	cfg.Password = viper.GetString("password")
	cfg.Database = viper.GetString("database")
	cfg.Charset = viper.GetString("charset")
	cfg.ConnectTimeout = viper.GetDuration("connect-timeout")

	driver, err := mysql.New(cfg)
	if err != nil {
		return nil, err
	}
	store, err := kvstore.New(driver,
		kvstore.WithTableOption(viper.GetString("table")),
		kvstore.WithCharsetOption(viper.GetString("charset")),
		kvstore.WithQueryTimeoutOption(viper.GetDuration("query-timeout")),
	)
	if err != nil {
		return nil, err
	}

	err = retry.Do(
		func() error { return store.Init(cmd.Context()) },
		retry.Context(cmd.Context()),
		retry.Attempts(viper.GetUint("retries")+1),
		retry.Delay(viper.GetDuration("retry-delay")),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
