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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hostcall/hostcall/guest"
	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/types"
	"github.com/hostcall/hostcall/util"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func GuestCmd() cli.Command {
	return cli.Command{
		Name: "guest",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "host",
				Value: fmt.Sprintf("localhost:%d", types.DefaultPort),
			},
			cli.StringFlag{
				Name:  "region",
				Usage: "Path of the host's shared region file to map",
			},
			cli.StringFlag{
				Name:  "arena",
				Usage: "Path of the host's zero-copy arena file to map",
			},
		},
		Subcommands: []cli.Command{
			EchoCmd(),
			BufferTestCmd(),
			PerfTestCmd(),
		},
	}
}

func dialSession(c *cli.Context) (*guest.Session, error) {
	return guest.Dial(
		c.GlobalString("host"),
		c.GlobalString("region"),
		c.GlobalString("arena"),
		util.GetRequestTimeout(),
	)
}

func EchoCmd() cli.Command {
	return cli.Command{
		Name: "echo",
		Action: func(c *cli.Context) {
			if err := runEcho(c); err != nil {
				logrus.Fatalf("Error running echo command: %v.", err)
			}
		},
	}
}

func runEcho(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("message is required")
	}
	s, err := dialSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	out, err := s.Echo([]byte(strings.Join(c.Args(), " ")))
	if err != nil {
		return err
	}
	fmt.Printf("%s (%v)\n", out, time.Since(start))
	return nil
}

func BufferTestCmd() cli.Command {
	return cli.Command{
		Name: "buffer-test",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "op",
				Value: "read",
				Usage: "Buffer operation: read, write or verify",
			},
			cli.StringFlag{
				Name:  "size",
				Value: "1m",
				Usage: "Size of each buffer, human readable",
			},
			cli.IntFlag{
				Name:  "count",
				Value: 1,
				Usage: "Number of buffers, up to 8",
			},
			cli.Uint64Flag{
				Name:  "pattern",
				Value: 0xDEADBEEF,
				Usage: "32-bit fill pattern",
			},
			cli.BoolFlag{
				Name:  "zerocopy",
				Usage: "Allocate buffers from the mapped arena",
			},
		},
		Action: func(c *cli.Context) {
			if err := runBufferTest(c); err != nil {
				logrus.Fatalf("Error running buffer-test command: %v.", err)
			}
		},
	}
}

func parseOp(name string) (uint32, error) {
	switch name {
	case "read":
		return protocol.BufferOpRead, nil
	case "write":
		return protocol.BufferOpWrite, nil
	case "verify":
		return protocol.BufferOpVerify, nil
	}
	return 0, fmt.Errorf("unknown buffer operation %q", name)
}

func runBufferTest(c *cli.Context) error {
	op, err := parseOp(c.String("op"))
	if err != nil {
		return err
	}
	size, err := util.ParseSize(c.String("size"))
	if err != nil {
		return err
	}
	count := c.Int("count")
	if count < 1 || count > protocol.MaxBuffers {
		return fmt.Errorf("buffer count must be between 1 and %d", protocol.MaxBuffers)
	}
	pattern := uint32(c.Uint64("pattern"))

	s, err := dialSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	bufs := make([]guest.TestBuffer, count)
	for i := range bufs {
		if c.Bool("zerocopy") {
			b, err := s.AllocBuffer(uint32(size))
			if err != nil {
				return err
			}
			if op != protocol.BufferOpWrite {
				fill(b.Bytes(), pattern)
			}
			bufs[i].Arena = b
		} else {
			bufs[i].Data = make([]byte, size)
			if op != protocol.BufferOpWrite {
				fill(bufs[i].Data, pattern)
			}
		}
	}

	start := time.Now()
	out, err := s.BufferTest(op, pattern, bufs)
	if err != nil {
		return err
	}
	status := "OK"
	if out.Status == protocol.BufferStatusVerifyFailed {
		status = "VERIFY FAILED"
	}
	fmt.Printf("%s: %v bytes, checksum 0x%08x, %s (%v)\n",
		c.String("op"), out.BytesProcessed, out.Checksum, status, time.Since(start))
	return nil
}

// fill writes the pattern in network byte order, matching the host's
// verify layout for socket channels.
func fill(data []byte, pattern uint32) {
	word := [4]byte{
		byte(pattern >> 24),
		byte(pattern >> 16),
		byte(pattern >> 8),
		byte(pattern),
	}
	for i := range data {
		data[i] = word[i%4]
	}
}

func PerfTestCmd() cli.Command {
	return cli.Command{
		Name: "perf-test",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "type",
				Value: "latency",
				Usage: "Test type: latency or throughput",
			},
			cli.IntFlag{
				Name:  "iterations",
				Value: 100,
			},
			cli.StringFlag{
				Name:  "bytes",
				Value: "4k",
				Usage: "Working set per iteration, human readable",
			},
		},
		Action: func(c *cli.Context) {
			if err := runPerfTest(c); err != nil {
				logrus.Fatalf("Error running perf-test command: %v.", err)
			}
		},
	}
}

func runPerfTest(c *cli.Context) error {
	var testType uint32
	switch c.String("type") {
	case "latency":
		testType = protocol.PerfLatency
	case "throughput":
		testType = protocol.PerfThroughput
	default:
		return fmt.Errorf("unknown test type %q", c.String("type"))
	}
	targetBytes, err := util.ParseSize(c.String("bytes"))
	if err != nil {
		return err
	}

	s, err := dialSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	out, err := s.PerfTest(testType, uint32(c.Int("iterations")), uint64(targetBytes))
	if err != nil {
		return err
	}
	roundTrip := time.Since(start)

	fmt.Printf("iterations: %v\n", out.IterationsCompleted)
	fmt.Printf("host latency min/avg/max: %v/%v/%v ns\n", out.MinLatencyNs, out.AvgLatencyNs, out.MaxLatencyNs)
	if testType == protocol.PerfThroughput {
		fmt.Printf("host throughput: %v MB/s\n", out.ThroughputMBps)
	}
	fmt.Printf("round trip: %v\n", roundTrip)
	return nil
}
