// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// pgclient-demo connects to a PostgreSQL server with the pgwireclient
// library, runs a query, and prints the result — a smoke test for the
// connection FSM and codec outside of the unit test suite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multigres/pgwireclient/conn"
)

func main() {
	var (
		host       = flag.String("host", "localhost", "PostgreSQL host")
		port       = flag.Int("port", 5432, "PostgreSQL port")
		database   = flag.String("database", "postgres", "PostgreSQL database name")
		user       = flag.String("user", "postgres", "PostgreSQL username")
		password   = flag.String("password", "", "PostgreSQL password (cleartext/MD5/SCRAM credential)")
		authMethod = flag.String("auth", "trust", "Credential kind: trust, cleartext, md5, scram-sha-256")
		query      = flag.String("query", "SELECT version()", "Query to run")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	credential, err := parseCredential(*authMethod, *password)
	if err != nil {
		logger.Error("invalid auth method", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting",
		"host", *host,
		"port", *port,
		"database", *database,
		"user", *user,
		"auth", *authMethod,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := conn.Connect(ctx, conn.Config{
		Host:            *host,
		Port:            *port,
		User:            *user,
		Database:        *database,
		Credential:      credential,
		ApplicationName: "pgclient-demo",
		DialTimeout:     10 * time.Second,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	logger.Info("connected", "process_id", c.ProcessID())

	results, err := c.SimpleQuery(ctx, *query)
	if err != nil {
		logger.Error("query failed", "error", err)
		os.Exit(1)
	}

	for i, res := range results {
		fmt.Printf("-- result %d: %s (%d rows)\n", i, res.CommandTag, len(res.Rows))
		for _, col := range res.Columns {
			fmt.Printf("%s\t", col.Name)
		}
		if len(res.Columns) > 0 {
			fmt.Println()
		}
		for _, row := range res.Rows {
			for _, v := range row.Values {
				if v == nil {
					fmt.Print("NULL\t")
				} else {
					fmt.Printf("%s\t", v)
				}
			}
			fmt.Println()
		}
	}
}

func parseCredential(method, password string) (conn.Credential, error) {
	switch method {
	case "trust":
		return conn.TrustCredential(), nil
	case "cleartext":
		return conn.CleartextCredential(password), nil
	case "md5":
		return conn.MD5Credential(password), nil
	case "scram-sha-256":
		return conn.SCRAMCredential(password), nil
	default:
		return conn.Credential{}, fmt.Errorf("unknown auth method %q", method)
	}
}
