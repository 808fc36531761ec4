/*
 Copyright © 2026 The hostcall Authors

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

package app

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/hostcall/hostcall/host"
	"github.com/hostcall/hostcall/host/rest"
	"github.com/hostcall/hostcall/types"
	"github.com/hostcall/hostcall/util"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func HostCmd() cli.Command {
	return cli.Command{
		Name: "host",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "name",
				Value: "hostcall",
			},
			cli.StringFlag{
				Name:  "listen",
				Value: fmt.Sprintf(":%d", types.DefaultPort),
			},
			cli.StringFlag{
				Name:  "listen-rest",
				Value: fmt.Sprintf(":%d", types.DefaultRESTPort),
			},
			cli.StringFlag{
				Name:  "region",
				Usage: "Path of the shared region file to create; empty disables the region transport",
			},
			cli.StringFlag{
				Name:  "arena",
				Usage: "Path of the zero-copy arena file to create; empty disables the zero-copy transport",
			},
		},
		Action: func(c *cli.Context) {
			if err := startHost(c); err != nil {
				logrus.Fatalf("Error running host command: %v.", err)
			}
		},
	}
}

func startHost(c *cli.Context) error {
	timeout := util.GetRequestTimeout()
	logrus.Infof("HOSTCALL_REQUEST_TIMEOUT: %v", timeout)

	server, err := host.NewServer(
		host.WithName(c.String("name")),
		host.WithListen(c.String("listen")),
		host.WithRegionPath(c.String("region")),
		host.WithArenaPath(c.String("arena")),
	)
	if err != nil {
		return err
	}

	restServer := rest.NewServer(server)
	router := http.Handler(rest.NewRouter(restServer))
	router = util.FilteredLoggingHandler(map[string]struct{}{
		"/v1/stats":    {},
		"/v1/sessions": {},
	}, os.Stdout, router)
	router = handlers.ProxyHeaders(router)

	addShutdown(func() {
		server.Shutdown()
	})

	restListen := c.String("listen-rest")
	go func() {
		logrus.Infof("Management API listening on %s", restListen)
		if err := http.ListenAndServe(restListen, router); err != nil {
			logrus.Fatalf("Management API exited: %v", err)
		}
	}()

	return server.Serve()
}
