package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/klaxon/internal/database"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(userAddCmd(), userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var (
		email       string
		name        string
		password    string
		annotations string
		inactive    bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, log, err := bootstrap("user")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			db, err := connectDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			hash, err := database.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			u := &database.User{
				GivenName:    name,
				Email:        email,
				PasswordHash: hash,
				IsActive:     !inactive,
				Annotations:  annotations,
			}
			if err := db.CreateUser(ctx, u); err != nil {
				return err
			}

			fmt.Printf("user %s created (%s)\n", u.Email, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&name, "name", "", "given name")
	cmd.Flags().StringVar(&password, "password", "", "login password (required)")
	cmd.Flags().StringVar(&annotations, "annotations", "", "free-form notes")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the account locked out")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("user")
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			db, err := connectDatabase(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			users, err := db.ListUsers(ctx)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("no users")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tNAME\tACTIVE\tCREATED\tLAST LOGIN")
			for _, u := range users {
				lastLogin := "never"
				if !u.LastLogin.IsZero() {
					lastLogin = u.LastLogin.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					u.Email, u.GivenName, u.IsActive,
					u.CreatedOn.Format(time.RFC3339), lastLogin)
			}
			return w.Flush()
		},
	}
}
