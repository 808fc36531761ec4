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

package main

import (
	"os"

	"github.com/hostcall/hostcall/app"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// VERSION is populated by the Makefile.
var VERSION = "dev"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a := cli.NewApp()
	a.Name = "hostcall"
	a.Usage = "Remote guest API calls to a host endpoint over shared memory or sockets"
	a.Version = VERSION
	a.Commands = []cli.Command{
		app.HostCmd(),
		app.GuestCmd(),
		app.LogCmd(),
	}
	a.CommandNotFound = func(c *cli.Context, command string) {
		logrus.Fatalf("Unknown command: %v", command)
	}

	if err := a.Run(os.Args); err != nil {
		logrus.Fatalf("Error running hostcall: %v.", err)
	}
}
