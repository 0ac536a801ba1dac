package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"casevault/internal/config"
	"casevault/internal/custody"
	"casevault/internal/ledger"
)

var errIntegrityViolations = errors.New("integrity violations found")

// newRootCmd builds the command tree. Settings resolve flag > env > config file.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "cocctl",
		Short:         "Chain-of-custody ledger operator tool",
		Long:          `Reads, verifies and certifies chain-of-custody records straight from the ledger database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("driver", "", "ledger driver: postgres or sqlite (env LEDGER_DRIVER)")
	pf.String("sqlite-path", "", "SQLite ledger file (env SQLITE_PATH)")
	pf.String("dsn", "", "Postgres DSN; overrides DB_* settings (env COC_POSTGRES_DSN)")
	pf.String("format", "json", "output format: json or yaml")

	_ = v.BindPFlag("driver", pf.Lookup("driver"))
	_ = v.BindPFlag("sqlite_path", pf.Lookup("sqlite-path"))
	_ = v.BindPFlag("dsn", pf.Lookup("dsn"))
	_ = v.BindPFlag("format", pf.Lookup("format"))
	bindEnv(v)

	root.AddCommand(
		newMigrateCmd(v),
		newChainCmd(v),
		newVerifyCmd(v),
		newVerifyCaseCmd(v),
		newCertificateCmd(v),
		newStatsCmd(v),
	)
	return root
}

func bindEnv(v *viper.Viper) {
	envs := map[string]string{
		"driver":                     "LEDGER_DRIVER",
		"sqlite_path":                "SQLITE_PATH",
		"dsn":                        "COC_POSTGRES_DSN",
		"signing_key":                "COC_SIGNING_KEY",
		"require_certificate_events": "COC_CERT_REQUIRE_EVENTS",
		"db.host":                    "DB_HOST",
		"db.port":                    "DB_PORT",
		"db.user":                    "DB_USER",
		"db.password":                "DB_PASSWORD",
		"db.name":                    "DB_NAME",
		"db.sslmode":                 "DB_SSLMODE",
	}
	for key, env := range envs {
		_ = v.BindEnv(key, env)
	}
}

// ledgerConfig resolves the store settings through the same validation the API uses.
func ledgerConfig(v *viper.Viper) (ledger.Config, error) {
	c := config.Config{
		Ledger: config.LedgerConfig{
			Driver:     strings.TrimSpace(v.GetString("driver")),
			SQLitePath: strings.TrimSpace(v.GetString("sqlite_path")),
		},
		DB: config.DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
			SSLMode:  v.GetString("db.sslmode"),
		},
	}
	dsn := v.GetString("dsn")
	if dsn != "" && (c.Ledger.Driver == "" || c.Ledger.Driver == config.DriverPostgres) {
		return ledger.Config{Driver: config.DriverPostgres, PostgresDSN: dsn}, nil
	}
	if err := c.ValidateLedger(); err != nil {
		return ledger.Config{}, err
	}
	return ledger.Config{
		Driver:      c.Ledger.Driver,
		PostgresDSN: c.PostgresDSN(),
		SQLitePath:  c.Ledger.SQLitePath,
	}, nil
}

func openLedger(ctx context.Context, v *viper.Viper) (*ledger.Ledger, error) {
	cfg, err := ledgerConfig(v)
	if err != nil {
		return nil, err
	}
	return ledger.Open(ctx, cfg)
}

// withService opens the ledger, runs fn and closes the ledger again.
func withService(ctx context.Context, v *viper.Viper, fn func(*custody.Service) error) error {
	l, err := openLedger(ctx, v)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(custody.NewService(l, custody.Options{
		Signer:                   custody.NewSigner(v.GetString("signing_key")),
		RequireCertificateEvents: v.GetBool("require_certificate_events"),
	}))
}

func render(w io.Writer, format string, val any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(val)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(val); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
