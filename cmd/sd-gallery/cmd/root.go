package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-sd-gallery/internal/api"
	"go-sd-gallery/internal/config"
	"go-sd-gallery/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// storePathFlag holds the value of the --store-path flag
var storePathFlag string

// storeBackendFlag holds the value of the --store-backend flag
var storeBackendFlag string

// listenFlag holds the value of the --listen flag
var listenFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

var logLevel string
var logFormat string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sd-gallery",
	Short: "Store AI generated images and browse them by prompt, checkpoint and LoRA",
	Long: `sd-gallery ingests images into a blob store under unique keys, reads the
generation parameters embedded in them, and serves a filterable, paginated gallery.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	closeTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func closeTransport() {
	if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
		log.Debug("Closing API logging transport file.")
		if err := loggingTransport.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log HTTP client requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storePathFlag, "store-path", "", "Bitcask blob store directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&storeBackendFlag, "store-backend", "", "Blob store backend: bitcask, s3 or memory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&listenFlag, "listen", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for the HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig loads the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging()

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Every field has a default, so a missing file is not fatal.
		log.WithError(err).Warnf("Failed to load configuration from %s, using defaults", cfgFile)
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	if cmd.Flags().Changed("store-path") {
		if storePathFlag != "" {
			globalConfig.StorePath = storePathFlag
			log.Debugf("Overriding StorePath based on --store-path flag: %s", storePathFlag)
		} else {
			log.Warn("--store-path flag provided but value is empty, ignoring.")
		}
	}

	if cmd.Flags().Changed("store-backend") {
		globalConfig.StoreBackend = storeBackendFlag
		log.Debugf("Overriding StoreBackend based on --store-backend flag: %s", storeBackendFlag)
	}

	if cmd.Flags().Changed("listen") && listenFlag != "" {
		globalConfig.ListenAddr = listenFlag
		log.Debugf("Overriding ListenAddr based on --listen flag: %s", listenFlag)
	}

	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := filepath.Join(filepath.Dir(globalConfig.StorePath), "api.log")
		if _, statErr := os.Stat(filepath.Dir(logFilePath)); statErr != nil {
			log.Warnf("Store directory '%s' not found, saving api.log to current directory.", filepath.Dir(logFilePath))
			logFilePath = "api.log"
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}
