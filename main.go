// Copyright 2021-2022 The httpmq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/pqrdesk/pqrclient/client"
	"github.com/pqrdesk/pqrclient/cmd"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
	Hostname   string
}

var cmdArgs cliArgs

var outputArgs cmd.OutputCLIArgs

var devServerArgs cmd.DevServerCLIArgs

var logTags log.Fields

func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Name:        "pqr",
		Version:     "v0.1.0",
		Usage:       "PQR support desk client",
		Description: "Command line client for the PQR support desk, with live dashboard, chat and assignment feeds",
		Flags: append([]cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			// Config file
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use DEFAULT if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
		}, cmd.GetOutputCLIFlags(&outputArgs)...),
		// Components
		Commands: append(accountCommands(),
			&cli.Command{
				Name:  "logout",
				Usage: "Drop the current session",
				Action: clientAction(func(_ context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunLogout(cc)
				}),
			},
			&cli.Command{
				Name:  "whoami",
				Usage: "Show the current user",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunWhoAmI(ctxt, cc)
				}),
			},
			pqrCommand(),
			chatCommand(),
			dashboardCommand(),
			assignCommand(),
			usersCommand(),
			dependencesCommand(),
			&cli.Command{
				Name:        "devserver",
				Usage:       "Run the development backend",
				Description: "Serves the PQR REST API and event streams from memory",
				Flags:       cmd.GetDevServerCLIFlags(&devServerArgs),
				Action:      startDevServer,
			},
		),
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// initialCmdArgsProcessing perform initial CMD arg processing
func initialCmdArgsProcessing() (*common.SystemConfig, error) {
	validate := validator.New()
	// Validate command line argument
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}
	setupLogging()
	tmp, err := json.MarshalIndent(&cmdArgs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal args")
		return nil, err
	}
	log.Debugf("Starting params\n%s", tmp)
	// Parse the config file
	if len(cmdArgs.ConfigFile) > 0 {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return nil, err
		}
	}
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to parse config file %s", cmdArgs.ConfigFile,
		)
		return nil, err
	}
	tmp, err = json.MarshalIndent(&config, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal config files")
		return nil, err
	}
	log.Debugf("Config file\n%s", tmp)
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config file content")
		return nil, err
	}
	return &config, nil
}

func defineControlVars() (*sync.WaitGroup, context.Context, context.CancelFunc) {
	runTimeContext, rtCancel := context.WithCancel(context.Background())
	return &sync.WaitGroup{}, runTimeContext, rtCancel
}

// signalRecvSetup helper function for setting up the SIG receive handler
func signalRecvSetup(
	runTimeContext context.Context, wg *sync.WaitGroup, ctxtCancel context.CancelFunc,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
		// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
		signal.Notify(cc, os.Interrupt)
		defer signal.Stop(cc)
		select {
		case <-cc:
			ctxtCancel()
		case <-runTimeContext.Done():
		}
	}()
}

// ============================================================================
// Client subcommands

// clientRunner the body of a client subcommand
type clientRunner func(
	ctxt context.Context, cc *cmd.ClientContext, wg *sync.WaitGroup, c *cli.Context,
) error

// clientAction wrap a client subcommand with config, session and shutdown handling
func clientAction(run clientRunner) cli.ActionFunc {
	return func(c *cli.Context) error {
		config, err := initialCmdArgsProcessing()
		if err != nil {
			return err
		}
		cc, err := cmd.NewClientContext(config, outputArgs, os.Stdout, cmdArgs.Hostname)
		if err != nil {
			return err
		}

		wg, runTimeContext, rtCancel := defineControlVars()
		defer wg.Wait()
		defer rtCancel()

		signalRecvSetup(runTimeContext, wg, rtCancel)

		return run(runTimeContext, cc, wg, c)
	}
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account email", Required: true},
		&cli.StringFlag{
			Name:     "password",
			Aliases:  []string{"p"},
			Usage:    "Account password",
			EnvVars:  []string{"PQR_PASSWORD"},
			Required: true,
		},
	}
}

func accountCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "login",
			Usage: "Start a session",
			Flags: credentialFlags(),
			Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
				return cmd.RunLogin(ctxt, cc, c.String("email"), c.String("password"))
			}),
		},
		{
			Name:  "register",
			Usage: "Create a client account and start a session",
			Flags: credentialFlags(),
			Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
				return cmd.RunRegister(ctxt, cc, c.String("email"), c.String("password"))
			}),
		},
	}
}

func pqrCommand() *cli.Command {
	return &cli.Command{
		Name:  "pqr",
		Usage: "Petitions, complaints and claims",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Open a new PQR",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Required: true},
					&cli.StringFlag{
						Name:    "priority",
						Aliases: []string{"p"},
						Usage:   "Priority: [LOW MEDIUM HIGH]",
						Value:   client.PriorityMedium,
					},
				},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunCreatePQR(ctxt, cc, client.NewPQR{
						Title:       c.String("title"),
						Description: c.String("description"),
						Priority:    c.String("priority"),
					})
				}),
			},
			{
				Name:  "mine",
				Usage: "List my PQRs",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunMyPQRs(ctxt, cc)
				}),
			},
		},
	}
}

var groupFlag = &cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Chat group ID", Required: true}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "PQR conversations",
		Subcommands: []*cli.Command{
			{
				Name:  "groups",
				Usage: "List visible chat groups",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunChatGroups(ctxt, cc)
				}),
			},
			{
				Name:  "send",
				Usage: "Send a message",
				Flags: []cli.Flag{
					groupFlag,
					&cli.StringFlag{Name: "content", Aliases: []string{"m"}},
					&cli.StringFlag{Name: "file-url"},
					&cli.StringFlag{Name: "file-type"},
				},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunSendMessage(ctxt, cc, client.NewChatMessage{
						ChatGroupID: c.String("group"),
						Content:     c.String("content"),
						FileURL:     c.String("file-url"),
						FileType:    c.String("file-type"),
					})
				}),
			},
			{
				Name:  "status",
				Usage: "Change the status of a chat group",
				Flags: []cli.Flag{
					groupFlag,
					&cli.StringFlag{
						Name:     "status",
						Aliases:  []string{"s"},
						Usage:    "Status: [OPEN IN_PROGRESS RESOLVED CLOSED]",
						Required: true,
					},
				},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunSetGroupStatus(ctxt, cc, c.String("group"), c.String("status"))
				}),
			},
			{
				Name:  "watch",
				Usage: "Follow the messages of a chat group",
				Flags: []cli.Flag{groupFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, wg *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunChatWatch(ctxt, cc, wg, c.String("group"))
				}),
			},
		},
	}
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Ticket statistics",
		Subcommands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "Follow the dashboard statistics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "range",
						Aliases: []string{"r"},
						Usage:   "Date range: [today 7d month all]",
						Value:   "all",
					},
				},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, wg *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunDashboardWatch(ctxt, cc, wg, c.String("range"))
				}),
			},
		},
	}
}

func assignCommand() *cli.Command {
	solverFlag := &cli.StringFlag{Name: "solver", Aliases: []string{"s"}, Usage: "Solver user ID", Required: true}
	return &cli.Command{
		Name:  "assign",
		Usage: "Solver assignments",
		Subcommands: []*cli.Command{
			{
				Name:  "solvers",
				Usage: "List assignable solvers",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunSolvers(ctxt, cc)
				}),
			},
			{
				Name:  "add",
				Usage: "Assign a solver to a chat group",
				Flags: []cli.Flag{groupFlag, solverFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunAssign(ctxt, cc, c.String("group"), c.String("solver"), false)
				}),
			},
			{
				Name:  "remove",
				Usage: "Remove a solver from a chat group",
				Flags: []cli.Flag{groupFlag, solverFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunAssign(ctxt, cc, c.String("group"), c.String("solver"), true)
				}),
			},
			{
				Name:  "watch",
				Usage: "Follow the assignment board",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, wg *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunAssignWatch(ctxt, cc, wg)
				}),
			},
		},
	}
}

var idFlag = &cli.StringFlag{Name: "id", Usage: "Entity ID", Required: true}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "User administration",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all users",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunListUsers(ctxt, cc)
				}),
			},
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: append(credentialFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}},
					&cli.StringFlag{
						Name:     "role",
						Aliases:  []string{"r"},
						Usage:    "Role: [Admin Client Solver Supervisor]",
						Required: true,
					},
					&cli.StringFlag{Name: "dependence", Aliases: []string{"d"}, Usage: "Dependence ID"},
				),
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunCreateUser(ctxt, cc, client.UserCreate{
						Name:         c.String("name"),
						Email:        c.String("email"),
						Password:     c.String("password"),
						Role:         c.String("role"),
						DependenceID: c.String("dependence"),
					})
				}),
			},
			{
				Name:  "update",
				Usage: "Update a user",
				Flags: []cli.Flag{
					idFlag,
					&cli.StringFlag{Name: "email", Aliases: []string{"e"}},
					&cli.StringFlag{Name: "role", Aliases: []string{"r"}},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"PQR_PASSWORD"}},
				},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunUpdateUser(ctxt, cc, c.String("id"), client.UserUpdate{
						Email:    c.String("email"),
						Role:     c.String("role"),
						Password: c.String("password"),
					})
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a user",
				Flags: []cli.Flag{idFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunDeleteUser(ctxt, cc, c.String("id"))
				}),
			},
		},
	}
}

func dependencesCommand() *cli.Command {
	nameFlag := &cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true}
	return &cli.Command{
		Name:  "dependences",
		Usage: "Dependence administration",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List all dependences",
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, _ *cli.Context) error {
					return cmd.RunListDependences(ctxt, cc)
				}),
			},
			{
				Name:  "create",
				Usage: "Create a dependence",
				Flags: []cli.Flag{nameFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunSaveDependence(ctxt, cc, "", c.String("name"))
				}),
			},
			{
				Name:  "update",
				Usage: "Rename a dependence",
				Flags: []cli.Flag{idFlag, nameFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunSaveDependence(ctxt, cc, c.String("id"), c.String("name"))
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a dependence",
				Flags: []cli.Flag{idFlag},
				Action: clientAction(func(ctxt context.Context, cc *cmd.ClientContext, _ *sync.WaitGroup, c *cli.Context) error {
					return cmd.RunDeleteDependence(ctxt, cc, c.String("id"))
				}),
			},
		},
	}
}

// ============================================================================
// Development server subcommand

// startDevServer run the development backend
func startDevServer(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}
	if config.DevServer == nil {
		return fmt.Errorf("development server can't start without its configurations")
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	defer wg.Wait()
	defer rtCancel()

	signalRecvSetup(runTimeContext, wg, rtCancel)

	return cmd.RunDevServer(runTimeContext, devServerArgs, config.DevServer, cmdArgs.Hostname)
}
