package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/CZERTAINLY/vcgencmd-node/internal/log"
	"github.com/CZERTAINLY/vcgencmd-node/internal/model"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const configName = "vcgencmd-node.yaml"

var (
	userConfigPath string // /default/config/path/vcgencmd-node on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	closeLog       = func() error { return nil }
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "vcgencmd-node")
}

func main() {
	// root flags, VCGENCMD_CONFIG and VCGENCMD_VERBOSE work too
	rootCmd.PersistentFlags().String("config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	for _, name := range []string{"config", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("VCGENCMD")
	viper.AutomaticEnv()

	runCmd.Flags().String("command", "", "overrides node.command from the config file")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initNode

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("vcgencmd-node failed", "error", err)
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vcgencmd-node",
	Short:        "Flow node querying the VideoCore firmware via vcgencmd",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [payload]",
	Short: "triggers the node once and prints the results as JSON lines",
	Long: `run triggers the configured command once. The optional payload is parsed as
JSON, anything else is passed as a string. It matters for display_power only,
when node.video_output is empty.`,
	Args: cobra.MaximumNArgs(1),
	RunE: doRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the node, triggered by NATS messages and/or a schedule",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "lists supported commands and their parameter",
	Args:  cobra.NoArgs,
	RunE:  doCommands,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a vcgencmd-node",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("vcgencmd-node: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:        %s\n", configPath)
		}
		fmt.Printf("vcgencmd-node: %s\n", info.Main.Version)
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

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	return info.Main.Version
}

func initNode(cmd *cobra.Command, _ []string) error {
	if p := viper.GetString("config"); p != "" {
		configPath = p
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var err error
	if configPath == "" {
		config, err = storeDefaultConfig(cmd.Context())
	} else {
		config, err = loadConfig(configPath)
	}
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if viper.GetBool("verbose") {
		config.Service.Verbose = true
	}

	w, closer, err := log.Output(config.Service.Log)
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("vcgencmd-node run", "configPath", configPath)
	slog.Debug("vcgencmd-node run", "config", config)
	return nil
}

func storeDefaultConfig(ctx context.Context) (model.Config, error) {
	cfg := model.DefaultConfig(ctx)
	configPath = filepath.Join(userConfigPath, configName)
	err := os.MkdirAll(filepath.Dir(configPath), 0755)
	if err != nil {
		return cfg, fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return cfg, fmt.Errorf("creating file %s: %w", configPath, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	defer func() {
		_ = enc.Close()
	}()
	if err := enc.Encode(cfg); err != nil {
		return cfg, fmt.Errorf("storing configuration: %w", err)
	}
	return cfg, nil
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error(d.String())
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
