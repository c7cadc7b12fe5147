/*
Copyright 2025 Scanhive Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package main provides the CLI commands for preparing the scanhive database.
This includes bootstrapping the schema and seeding a demo account.
*/

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/database"
	"github.com/scanhive/scanhive/model"
)

// migrateCommands creates the root command for schema operations.
func migrateCommands(b *scanhiveInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "prepare the scanhive database",
	}

	cmd.AddCommand(migrateUpCommands())
	cmd.AddCommand(seedCommands(b))

	return cmd
}

// migrateUpCommands creates the command that bootstraps the schema.
// ConnectDB creates the accounts and scan_tasks tables if they are missing,
// so connecting is the whole migration.
func migrateUpCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			_, err = database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}

			log.Println("Schema is up to date!")
		},
	}

	return cmd
}

// seedCommands creates a demo account with a starting credit balance, which
// is handy for local development and smoke tests.
func seedCommands(b *scanhiveInstance) *cobra.Command {
	var name string
	var email string
	var credits int64

	cmd := &cobra.Command{
		Use: "seed",
		Run: func(cmd *cobra.Command, args []string) {
			account, err := b.scanhive.CreateAccount(model.Account{
				Name:           name,
				Email:          email,
				CreditsBalance: credits,
				IsActive:       true,
			})
			if err != nil {
				log.Printf("Error seeding account: %v", err)
				return
			}

			log.Printf("Seeded account %s with %d credits", account.AccountID, account.CreditsBalance)
		},
	}

	cmd.Flags().StringVar(&name, "name", "Demo Account", "name for the seeded account")
	cmd.Flags().StringVar(&email, "email", "demo@scanhive.local", "email for the seeded account")
	cmd.Flags().Int64Var(&credits, "credits", 100, "starting credit balance")

	return cmd
}
