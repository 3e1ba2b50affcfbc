package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lizheng/media-analyst/internal/log"
	"github.com/lizheng/media-analyst/internal/model"
)

const (
	appName    = "media-analyst"
	configName = appName + ".yaml"
	envPrefix  = "MEDIA_ANALYST"
)

var (
	userConfigPath string // /default/config/path/media-analyst on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, appName)
}

func main() {
	// root flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	flags.BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	flags.String("worker-dir", "", "MediaCrawler directory, overrides worker.dir")
	flags.String("listen", "", "HTTP listen address, overrides service.listen")
	_ = viper.BindPFlag("worker.dir", flags.Lookup("worker-dir"))
	_ = viper.BindPFlag("service.listen", flags.Lookup("listen"))

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initMediaAnalyst
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(argsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error(appName+" failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          appName,
	Short:        "Supervises MediaCrawler runs for social media analysis",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a media-analyst",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println(appName + ": version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:        %s\n", configPath)
		}
		fmt.Printf("media-analyst: %s\n", info.Main.Version)
		fmt.Printf("go:            %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:        %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:          %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:         %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initMediaAnalyst(cmd *cobra.Command, _ []string) error {
	// .env is optional and never overrides the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if envConfig, ok := os.LookupEnv(envPrefix + "_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, configName)
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, iss := range model.Issues(err) {
				slog.Error("invalid configuration", iss.Attr("issue"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// flags and environment have a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}
	if viper.IsSet("worker.dir") {
		config.Worker.Dir = viper.GetString("worker.dir")
	}
	if viper.IsSet("service.listen") {
		config.Service.Listen = viper.GetString("service.listen")
	}

	// initialize logging
	logger, closer, err := log.New(log.Options{
		Verbose:     config.Service.Verbose,
		Destination: config.Service.Log,
	})
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(logger)

	slog.DebugContext(cmd.Context(), appName+" run", "configPath", configPath)
	slog.DebugContext(cmd.Context(), appName+" run", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
