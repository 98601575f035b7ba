package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "checkin-engine",
	Short: "Attendance check-in engine with facial recognition",
	Long: `Check-in Engine is the attendance backend for congregation management.
It matches face descriptors from capture devices against enrolled members,
records session check-ins, watches the stream for anomalies and issues
proof-of-presence certificates.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
