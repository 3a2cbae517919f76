package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a development access token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		nickname, _ := cmd.Flags().GetString("nickname")
		role := auth.Role(mustString(cmd, "role"))
		if !role.Valid() {
			fmt.Printf("Error: unknown role %q (host, moderator, member)\n", role)
			os.Exit(1)
		}

		cfg := config.Load()
		jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
		if nickname == "" {
			nickname = args[0]
		}

		token, err := jwtManager.GenerateAccessToken(args[0], nickname, role)
		if err != nil {
			fmt.Printf("Error issuing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
	},
}

func mustString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Printf("Error reading --%s: %v\n", name, err)
		os.Exit(1)
	}
	return v
}

func init() {
	tokenCmd.Flags().String("nickname", "", "Display name (defaults to the user id)")
	tokenCmd.Flags().String("role", string(auth.RoleMember), "Role: host, moderator or member")
	rootCmd.AddCommand(tokenCmd)
}
