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
	"github.com/hostcall/hostcall/util"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	retentionPeriod = "retentionPeriod"
	maxLogFileSize  = "maxLogFileSize"
	maxBackups      = "maxBackups"
)

func LogCmd() cli.Command {
	return cli.Command{
		Name: "logtofile",
		Subcommands: []cli.Command{
			LogEnable(),
			LogDisable(),
		},
		Action: func(c *cli.Context) {
		},
	}
}

func LogEnable() cli.Command {
	return cli.Command{
		Name: "enable",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "dir",
				Value: ".",
				Usage: "Directory the log file and its config live in",
			},
			cli.IntFlag{
				Name:  retentionPeriod,
				Usage: "Retention period of log file in days",
				Value: util.DefaultRetentionPeriod,
			},
			cli.IntFlag{
				Name:  maxLogFileSize,
				Usage: "Max size of log file in mb",
				Value: util.DefaultLogFileSize,
			},
			cli.IntFlag{
				Name:  maxBackups,
				Usage: "Max number of log files to keep once size exceeds maxLogFileSize",
				Value: util.DefaultMaxBackups,
			},
		},
		Action: func(c *cli.Context) {
			if err := setLogs(c, true); err != nil {
				logrus.Fatalf("Fail to enable logs, err: %v", err)
			}
		},
	}
}

func LogDisable() cli.Command {
	return cli.Command{
		Name: "disable",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "dir",
				Value: ".",
				Usage: "Directory the log file and its config live in",
			},
		},
		Action: func(c *cli.Context) {
			if err := setLogs(c, false); err != nil {
				logrus.Fatalf("Fail to disable logs, err: %v", err)
			}
		},
	}
}

func setLogs(c *cli.Context, enable bool) error {
	lf := util.LogToFile{
		Enable:          enable,
		MaxLogFileSize:  c.Int(maxLogFileSize),
		RetentionPeriod: c.Int(retentionPeriod),
		MaxBackups:      c.Int(maxBackups),
	}
	return util.SetLogging(c.String("dir"), lf)
}
