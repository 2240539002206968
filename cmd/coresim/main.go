/*
Copyright 2023 Nike, Inc.

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
	"os"
	"os/signal"
	"syscall"

	"github.com/Nike-Inc/aws-greengrass-core-sdk-go/pkg/coresim"

	"github.com/nuclio/errors"
	"github.com/nuclio/zap"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string
	var listenAddress string
	var logLevel string

	command := &cobra.Command{
		Use:   "coresim",
		Short: "Local Greengrass core simulator",
		Long: `Serves the Greengrass SDK protocol on a unix socket, backed by
in-memory pub/sub, shadow, secret and invocation stores`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loggerInstance, err := nucliozap.NewNuclioZapCmd("coresim",
				nucliozap.GetLevelByName(logLevel))
			if err != nil {
				return errors.Wrap(err, "Failed to create logger")
			}

			configuration := coresim.NewConfiguration()
			if configPath != "" {
				if configuration, err = coresim.LoadConfiguration(configPath); err != nil {
					return err
				}
			}

			if listenAddress != "" {
				configuration.ListenAddress = listenAddress
			}

			simulator, err := coresim.NewSimulator(loggerInstance, configuration)
			if err != nil {
				return errors.Wrap(err, "Failed to create simulator")
			}

			if err := simulator.Start(); err != nil {
				return errors.Wrap(err, "Failed to start simulator")
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			receivedSignal := <-signals

			loggerInstance.InfoWith("Shutting down", "signal", receivedSignal)

			return simulator.Stop()
		},
	}

	command.Flags().StringVar(&configPath, "config", "", "Path of configuration file")
	command.Flags().StringVar(&listenAddress, "listen-addr", "", "Socket path to listen on")
	command.Flags().StringVar(&logLevel, "log-level", "info", "One of debug, info, warn, error")

	return command
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		errors.PrintErrorStack(os.Stderr, err, 5)

		os.Exit(1)
	}
}
