package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"whiteboard-backend/internal/database"
)

var rootCmd = &cobra.Command{
	Use:   "wbctl",
	Short: "Administration tool for the whiteboard backend",
	Long:  `wbctl migrates the database, inspects recordings and exports timelines without going through the HTTP API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env 는 선택 사항
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// openDB connects with the DB_* environment, exiting on failure.
func openDB() *gorm.DB {
	db, err := database.ConnectDB(database.LoadConfig())
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	return db
}
