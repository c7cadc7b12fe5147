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

package main

import (
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scanhive/scanhive"
	"github.com/scanhive/scanhive/config"
	"github.com/scanhive/scanhive/database"
	"github.com/scanhive/scanhive/internal/notification"
)

// Scanhive represents the CLI application, encapsulating the root Cobra command.
type Scanhive struct {
	cmd *cobra.Command
}

// scanhiveInstance holds the runtime service instance and its configuration,
// shared across all subcommands.
type scanhiveInstance struct {
	scanhive *scanhive.Scanhive
	cnf      *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance before
// running any command.
func preRun(app *scanhiveInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("scanhive.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newScanhive, err := setupScanhive(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.scanhive = newScanhive
		app.cnf = cnf

		return nil
	}
}

// setupScanhive creates and initializes a new service instance from the
// provided configuration, connecting to the data source as it goes.
func setupScanhive(cfg *config.Configuration) (*scanhive.Scanhive, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "error getting datasource")
	}

	newScanhive, err := scanhive.NewScanhive(db)
	if err != nil {
		return nil, errors.Wrap(err, "error creating scanhive")
	}
	return newScanhive, nil
}

// NewCLI creates the command-line interface for the scanhive application.
func NewCLI() *Scanhive {
	var configFile string
	b := &scanhiveInstance{}

	var rootCmd = &cobra.Command{
		Use:   "scanhive",
		Short: "OSINT scan orchestration service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./scanhive.json", "Configuration file for scanhive")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(reconcileCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Scanhive{cmd: rootCmd}
}

func (w Scanhive) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
