package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	httpsProxy      string
	caCertPath      string
	insecureSkipTLS bool
	logLevel        string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "safe-pkgs",
		Short: "Package safety evaluation engine",
		Long: `safe-pkgs evaluates npm, cargo, and PyPI packages for supply-chain risk
before a package manager installs them, either as an MCP tool server or a
direct CLI.`,
	}

	rootCmd.PersistentFlags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL for outbound registry/advisory requests")
	rootCmd.PersistentFlags().StringVar(&caCertPath, "ca-cert", "", "Additional CA certificate file to trust")
	rootCmd.PersistentFlags().BoolVar(&insecureSkipTLS, "insecure-skip-tls-verify", false, "Disable TLS certificate verification (unsafe)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newSupportMapCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
