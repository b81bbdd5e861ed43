package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/RepoStats/internal/log"
	"github.com/CZERTAINLY/RepoStats/internal/model"
)

const (
	configName = "repostats.yaml"
	envPrefix  = "REPOSTATS"
)

var (
	userConfigPath string // /default/config/path/repostats on given OS
	configPath     string // actual config file used
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagEnvFile        string // value of --env flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "repostats")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env", "", "dotenv file with environment overrides - default is .env in current directory when present")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initRepoStats

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("repostats failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "repostats",
	Short:        "Runs gh-repo-stats analyses as background jobs",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints the version of repostats",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("repostats: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("repostats: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "dev"
	}
	return info.Main.Version
}

func initRepoStats(cmd *cobra.Command, _ []string) error {
	if err := loadDotEnv(); err != nil {
		return err
	}

	if envConfig, ok := os.LookupEnv("REPOSTATSCONFIG"); ok {
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
		configPath = filepath.Join(userConfigPath, configName)
		if err := storeDefault(configPath); err != nil {
			return err
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := model.BindEnv(v); err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	var err error
	config, err = model.Load(v)
	if err != nil {
		for _, d := range model.ConfigErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Service.Verbose, config.Service.LogFormat))

	slog.Debug("repostats run", "configPath", configPath)
	slog.Debug("repostats run", "config", config)
	return nil
}

// loadDotEnv loads --env, or .env from the current directory when it
// exists. Variables already set in the environment win.
func loadDotEnv() error {
	if flagEnvFile != "" {
		if err := godotenv.Load(flagEnvFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", flagEnvFile, err)
		}
		return nil
	}
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func storeDefault(path string) error {
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
	if err := enc.Encode(model.DefaultConfig()); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
