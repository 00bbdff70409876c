package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-session/internal/config"
)

var (
	backend  string
	storeDir string
	apiURL   string
	verbose  bool

	rootCmd = &cobra.Command{
		Use:   "authsession",
		Short: "Manage a stored sign-in session against the auth backend",
		Long: `authsession keeps a signed-in session in local storage: it signs in,
validates and refreshes the stored credentials, and signs out.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "credential store: memory, file, bolt or redis (env STORE_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "directory for the file and bolt stores (env STORE_DIR)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "auth backend base URL (env API_BASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, refreshCmd, watchCmd)
}

// setup folds flags into the environment so config.New sees them, then
// configures logging.
func setup(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{
		"STORE_BACKEND": backend,
		"STORE_DIR":     storeDir,
		"API_BASE_URL":  apiURL,
	}
	for name, value := range overrides {
		if value == "" {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}

	cfg := config.New()
	if err := config.Validate(cfg); err != nil {
		return err
	}
	configureLogging(cfg)
	log.Debug().Str("config", config.Describe(cfg)).Msg("Configuration loaded")
	return nil
}

func configureLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
