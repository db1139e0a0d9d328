package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-go-golems/sidenote/cmd/sidenote/cmds"
	"github.com/go-go-golems/sidenote/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "sidenote",
	Short: "sidenote is a streaming LLM chat with inline explanations of selected text",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// --log-level and co are only parsed once cobra has run
		initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() {
	logLevel := viper.GetString(config.KeyLogLevel)
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString(config.KeyLogFile),
		LogFormat:  viper.GetString(config.KeyLogFormat),
		WithCaller: viper.GetBool(config.KeyWithCaller),
	})
	cobra.CheckErr(err)
}

func InitLogger(cfg *logConfig) error {
	logger := zerolog.New(os.Stderr).With().Timestamp()
	if cfg.WithCaller {
		logger = logger.Caller()
	}

	// default is text
	var logWriter io.Writer
	if cfg.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   cfg.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = logger.Logger().Output(logWriter)

	switch cfg.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return nil
}

func initConfig(configPath string) error {
	viper.SetEnvPrefix("sidenote")
	config.SetDefaults(viper.GetViper())

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.sidenote")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/sidenote")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	// configure logging from the config file until the flags are parsed
	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Bool(config.KeyWithCaller, false, "Log caller")
	pf.String(config.KeyLogLevel, "info", "Log level (trace, debug, info, warn, error, fatal)")
	pf.String(config.KeyLogFormat, "text", "Log format (json, text)")
	pf.String(config.KeyLogFile, "", "Log file (default: stderr)")
	pf.Bool("verbose", false, "Verbose output")

	pf.String("config", "", "Path to config file (default ~/.sidenote/config.yaml)")
	pf.String(config.KeyDB, config.DefaultDBPath(), "Path to the sidenote database")
	pf.String(config.KeySystemPrompt, "", "System prompt sent with every chat turn")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		} else if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	if err := initConfig(configFile); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		cmds.NewKeysCommand(),
		cmds.NewChatCommand(),
		cmds.NewConversationsCommand(),
		cmds.NewAnnotateCommand(),
		cmds.NewAnnotationsCommand(),
		cmds.NewDocsCommand(),
	)
}
