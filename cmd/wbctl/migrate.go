package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"whiteboard-backend/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(cmd *cobra.Command, args []string) {
		db := openDB()
		defer database.Close(db)

		if err := database.Migrate(db); err != nil {
			fmt.Printf("Error migrating: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Schema is up to date")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
