package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// runShell reads statements from stdin against one server, reusing cached
// connections between statements. A statement ends with ';'. Lines that
// start with '\' are shell commands; see shellHelp.
func runShell(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("shell")
	serverID := fs.Int64("server", 0, "saved server id")
	database := fs.String("database", "", "database (default: the server's default database)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sh := &shell{app: a, serverID: *serverID, database: *database, prompt: term.IsTerminal(int(os.Stdin.Fd()))}
	return sh.run(ctx, os.Stdin)
}

const shellHelp = `\use <server> [database]   switch server and database
\connect                   open a connection now
\disconnect [database|*]   close the cached connection (default: current database, * = all)
\cached                    list cached connections
\q                         quit`

type shell struct {
	app      *app
	serverID int64
	database string
	prompt   bool
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var stmt strings.Builder
	for {
		if s.prompt {
			if stmt.Len() == 0 {
				fmt.Fprintf(os.Stderr, "%d/%s> ", s.serverID, s.database)
			} else {
				fmt.Fprint(os.Stderr, "... ")
			}
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		if stmt.Len() == 0 && strings.HasPrefix(line, `\`) {
			quit, err := s.meta(ctx, line)
			if err != nil {
				s.app.logger.Error("command failed", "command", line, "error", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if line == "" {
			continue
		}
		stmt.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			stmt.WriteByte('\n')
			continue
		}
		s.execute(ctx, stmt.String())
		stmt.Reset()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if rest := strings.TrimSpace(stmt.String()); rest != "" {
		s.execute(ctx, rest)
	}
	return nil
}

func (s *shell) execute(ctx context.Context, sql string) {
	if s.serverID == 0 {
		s.app.logger.Error("no server selected; use \\use <server>")
		return
	}
	rows, err := s.app.executor.Execute(ctx, s.serverID, s.database, sql)
	if err != nil {
		s.app.logger.Error("query failed", "error", err)
		return
	}
	if err := s.app.out.Rows(rows); err != nil {
		s.app.logger.Error("write failed", "error", err)
	}
}

// meta runs a backslash command and reports whether the shell should exit.
func (s *shell) meta(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\q`, `\quit`:
		return true, nil

	case `\?`, `\help`:
		fmt.Fprintln(os.Stderr, shellHelp)

	case `\use`:
		if len(fields) < 2 {
			return false, errors.New(`usage: \use <server> [database]`)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid server id %q", fields[1])
		}
		s.serverID = id
		s.database = ""
		if len(fields) > 2 {
			s.database = fields[2]
		}

	case `\connect`, `\c`:
		key, err := s.app.executor.Connect(ctx, s.serverID, s.database)
		if err != nil {
			return false, err
		}
		s.app.logger.Info("connected", "key", key.String())

	case `\disconnect`:
		database := s.database
		if len(fields) > 1 {
			database = fields[1]
		}
		if database == "*" {
			database = ""
		} else if database == "" {
			key, _, err := s.app.executor.Resolve(ctx, s.serverID, "")
			if err != nil {
				return false, err
			}
			database = key.Database
		}
		n := s.app.executor.Disconnect(s.serverID, database)
		s.app.logger.Info("disconnected", "server", s.serverID, "database", database, "closed", n)

	case `\cached`:
		keys := s.app.executor.Cached()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return false, s.app.out.Value(names)

	default:
		return false, fmt.Errorf("unknown command %s (try \\?)", fields[0])
	}
	return false, nil
}
