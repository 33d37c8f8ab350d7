package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

type SubCommandArgs struct {
	RemoteAdminServer string
	ConfigFile        string
}

func main() {
	var config tipjar.Config
	args := SubCommandArgs{}

	// define root command
	rootCmd := &cobra.Command{
		Use:   "tipjar",
		Short: "TipJar verifies on-chain tips and settles them exactly once",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := LoadConfig(args.ConfigFile)
			if err != nil {
				return err
			}
			applyFlagOverrides(&c)
			config = c
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Help()
			os.Exit(0)
		},
	}

	// Flags override the config file; bound through viper so only
	// flags actually given on the command line take effect.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&args.ConfigFile, "config", "", "Config file (default: search for tipjar.toml)")
	flags.StringVar(&args.RemoteAdminServer, "remote", "", "Admin API base URL for client commands")
	flags.String("rpc-url", "", "Chain JSON-RPC URL")
	flags.Int64("chain-id", 0, "Expected chain id")
	flags.String("token-contract", "", "Token contract address (empty: native asset)")
	flags.String("store-db-file", "", "SQLite database file")
	flags.String("postgres-dsn", "", "PostgreSQL DSN (overrides store-db-file)")
	flags.String("webapi-pub-port", "", "Public API port")
	flags.String("webapi-admin-port", "", "Admin API port")
	flags.String("log-file", "", "Process log file (rotated)")
	viper.BindPFlags(flags)

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the TipJar server",
		Run: func(cmd *cobra.Command, _ []string) {
			Server(config)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Ask a running server to sweep stale tips now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Sweep(config, args)
		},
	}

	targetCmd := &cobra.Command{
		Use:   "target <targetRef> <ownerAddress>",
		Short: "Register a tippable target on a running server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, a []string) error {
			return RegisterTarget(a[0], a[1], config, args)
		},
	}

	processCmd := &cobra.Command{
		Use:   "process <tipID>",
		Short: "Ask a running server to process one tip now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return ProcessTip(a[0], config, args)
		},
	}

	rootCmd.AddCommand(serverCmd, configCmd, sweepCmd, targetCmd, processCmd)

	// Execute the Cobra command
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// LoadConfig reads .env (if present), finds the config file and loads it
// with defaults and TIPJAR_* environment overrides applied.
func LoadConfig(configFile string) (tipjar.Config, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Println("Config: ignoring .env:", err)
	}
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile == "" {
		return tipjar.LoadConfig()
	}
	c, err := tipjar.LoadConfig(configFile)
	if err != nil {
		return c, fmt.Errorf("failed to load config %s: %w", configFile, err)
	}
	return c, nil
}

// findConfigFile searches the usual places for tipjar.toml, or the name
// given by TIPJAR_ENV. Returns "" if there is none (defaults apply).
func findConfigFile() string {
	v := viper.New()
	name, set := os.LookupEnv("TIPJAR_ENV")
	if !set {
		name = "tipjar"
	}
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tipjar/")
	v.AddConfigPath("$HOME/.tipjar")
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func applyFlagOverrides(c *tipjar.Config) {
	if viper.IsSet("rpc-url") {
		c.Chain.RPCURL = viper.GetString("rpc-url")
	}
	if viper.IsSet("chain-id") {
		c.Chain.ChainID = viper.GetInt64("chain-id")
	}
	if viper.IsSet("token-contract") {
		c.Token.Contract = viper.GetString("token-contract")
	}
	if viper.IsSet("store-db-file") {
		c.Store.DBFile = viper.GetString("store-db-file")
	}
	if viper.IsSet("postgres-dsn") {
		c.Store.PostgresDSN = viper.GetString("postgres-dsn")
	}
	if viper.IsSet("webapi-pub-port") {
		c.WebAPI.PubPort = viper.GetString("webapi-pub-port")
	}
	if viper.IsSet("webapi-admin-port") {
		c.WebAPI.AdminPort = viper.GetString("webapi-admin-port")
	}
	if viper.IsSet("log-file") {
		c.Tipjar.LogFile = viper.GetString("log-file")
	}
}
