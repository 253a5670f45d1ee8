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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/pqrdesk/pqrclient/apis"
	"github.com/pqrdesk/pqrclient/auth"
	"github.com/pqrdesk/pqrclient/common"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// DevServerCLIArgs arguments
type DevServerCLIArgs struct {
	AdminEmail    string `validate:"required,email"`
	AdminPassword string `validate:"required"`
	PathPrefix    string `validate:"required,startswith=/"`
	Dependences   cli.StringSlice
}

// GetDevServerCLIFlags retrieve the set of CMD flags for the development server
func GetDevServerCLIFlags(args *DevServerCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "admin-email",
			Usage:       "Email of the seeded administrator",
			Aliases:     []string{"ae"},
			EnvVars:     []string{"DEVSERVER_ADMIN_EMAIL"},
			Value:       "admin@pqr.local",
			DefaultText: "admin@pqr.local",
			Destination: &args.AdminEmail,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "admin-password",
			Usage:       "Password of the seeded administrator",
			Aliases:     []string{"ap"},
			EnvVars:     []string{"DEVSERVER_ADMIN_PASSWORD"},
			Value:       "admin",
			DefaultText: "admin",
			Destination: &args.AdminPassword,
			Required:    false,
		},
		// End-point related
		&cli.StringFlag{
			Name:        "endpoint-prefix",
			Usage:       "Set the end-point path prefix for the APIs",
			Aliases:     []string{"ep"},
			EnvVars:     []string{"DEVSERVER_ENDPOINT_PREFIX"},
			Value:       "/api",
			DefaultText: "/api",
			Destination: &args.PathPrefix,
			Required:    false,
		},
		&cli.StringSliceFlag{
			Name:        "dependence",
			Usage:       "Dependence to seed. May be repeated.",
			Aliases:     []string{"d"},
			EnvVars:     []string{"DEVSERVER_DEPENDENCES"},
			Destination: &args.Dependences,
			Required:    false,
		},
	}
}

// RunDevServer run the development backend until the runtime context ends
func RunDevServer(
	runTimeContext context.Context,
	params DevServerCLIArgs,
	config *common.DevServerConfig,
	instance string,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "devserver",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}
	if config == nil {
		return fmt.Errorf("development server can't start without its configurations")
	}

	store := apis.NewStore()
	if err := store.Seed(
		[]apis.SeedUser{
			{Email: params.AdminEmail, Password: params.AdminPassword, Role: auth.RoleAdmin},
		},
		params.Dependences.Value(),
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to seed store")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := apis.GetPQRBackendHandler(
		localCtxt,
		store,
		&config.HTTPSetting,
		time.Millisecond*time.Duration(config.StreamPeriod),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := apis.BuildRouter(httpHandler, params.PathPrefix)

	serverCfg := config.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
