package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/catalog"
	"github.com/justjake/querylink/pkg/config"
	"github.com/justjake/querylink/pkg/servers"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runQuery(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("query")
	serverID := fs.Int64("server", 0, "saved server id")
	database := fs.String("database", "", "database to run against (default: the server's default database)")
	sql := fs.String("sql", "", "statement to run; '-' reads it from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *serverID == 0 || *sql == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	text := *sql
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = string(data)
	}

	rows, err := a.executor.Execute(ctx, *serverID, *database, text)
	if err != nil {
		return err
	}
	return a.out.Rows(rows)
}

func runCatalog(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("catalog")
	serverID := fs.Int64("server", 0, "saved server id")
	database := fs.String("database", "", "database to inspect (default: the server's default database)")
	schema := fs.String("schema", "", "list this schema's tables, views, and sequences")
	tableName := fs.String("table", "", "describe this table (requires -schema)")
	listDatabases := fs.Bool("databases", false, "list databases instead of schemas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *serverID == 0 || (*tableName != "" && *schema == "") {
		fs.Usage()
		return flag.ErrHelp
	}

	srv, err := a.store.Get(ctx, *serverID)
	if err != nil {
		return err
	}
	if srv.Backend != backend.KindPostgres {
		return fmt.Errorf("catalog browsing needs a %s server, %s is %s", backend.KindPostgres, srv.Name, srv.Backend)
	}

	c := catalog.New(a.executor, *serverID, *database)
	switch {
	case *tableName != "":
		d, err := c.Describe(ctx, *schema, *tableName)
		if err != nil {
			return err
		}
		return a.out.Value(d)
	case *schema != "":
		tables, err := c.Tables(ctx, *schema)
		if err != nil {
			return err
		}
		views, err := c.Views(ctx, *schema)
		if err != nil {
			return err
		}
		sequences, err := c.Sequences(ctx, *schema)
		if err != nil {
			return err
		}
		return a.out.Value(map[string]any{"tables": tables, "views": views, "sequences": sequences})
	case *listDatabases:
		dbs, err := c.Databases(ctx)
		if err != nil {
			return err
		}
		return a.out.Value(dbs)
	}
	schemas, err := c.Schemas(ctx)
	if err != nil {
		return err
	}
	return a.out.Value(schemas)
}

// serverFlags binds the editable Server fields to a flag set.
type serverFlags struct {
	name, host, user, password, database, backend, sslMode string
	passwordEnv, passwordArn, passwordKey                  string
	port                                                   int
}

func (f *serverFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.host, "host", "", "host name (postgres) or directory holding database files (sqlite)")
	fs.IntVar(&f.port, "port", 0, "port (default 5432)")
	fs.StringVar(&f.user, "user", "", "user name")
	fs.StringVar(&f.password, "password", "", "plaintext password, stored in the state database")
	fs.StringVar(&f.passwordEnv, "password-env", "", "read the password from this environment variable at connect time")
	fs.StringVar(&f.passwordArn, "password-aws-secret-arn", "", "read the password from this AWS Secrets Manager secret")
	fs.StringVar(&f.passwordKey, "password-aws-secret-key", "password", "JSON key within the AWS secret")
	fs.StringVar(&f.database, "default-database", "", "database used when a query names none")
	fs.StringVar(&f.backend, "backend", "", "postgres or sqlite (default postgres)")
	fs.StringVar(&f.sslMode, "sslmode", "", "PostgreSQL sslmode (default prefer)")
}

// apply copies the flags that were set onto srv.
func (f *serverFlags) apply(fs *flag.FlagSet, srv *servers.Server) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "name":
			srv.Name = f.name
		case "host":
			srv.Host = f.host
		case "port":
			srv.Port = f.port
		case "user":
			srv.Username = f.user
		case "password":
			srv.Password = f.password
			srv.PasswordSecret = nil
		case "password-env":
			srv.Password = ""
			srv.PasswordSecret = &config.SecretRef{EnvVar: f.passwordEnv}
		case "password-aws-secret-arn":
			srv.Password = ""
			srv.PasswordSecret = &config.SecretRef{AwsSecretArn: f.passwordArn, Key: f.passwordKey}
		case "default-database":
			srv.DefaultDatabase = f.database
		case "backend":
			var kind backend.Kind
			kind, err = backend.ParseKind(f.backend)
			srv.Backend = kind
		case "sslmode":
			srv.SSLMode = f.sslMode
		}
	})
	return err
}

func runServers(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: querylink servers list|get|add|update|rm [flags]")
	}
	sub, args := args[0], args[1:]

	fs := newFlagSet("servers " + sub)
	id := fs.Int64("id", 0, "server id")
	var sf serverFlags
	if sub == "add" || sub == "update" {
		sf.register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch sub {
	case "list", "ls":
		list, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		return a.out.Servers(list)

	case "get":
		srv, err := a.store.Get(ctx, *id)
		if err != nil {
			return err
		}
		return a.out.Servers([]servers.Server{srv})

	case "add":
		var srv servers.Server
		if err := sf.apply(fs, &srv); err != nil {
			return err
		}
		created, err := a.store.Create(ctx, srv)
		if err != nil {
			return err
		}
		a.logger.Info("added server", "id", created.ID, "name", created.Name)
		return a.out.Servers([]servers.Server{created})

	case "update":
		srv, err := a.store.Get(ctx, *id)
		if err != nil {
			return err
		}
		if err := sf.apply(fs, &srv); err != nil {
			return err
		}
		if err := a.store.Update(ctx, srv); err != nil {
			return err
		}
		// Cached connections may use the old settings.
		a.executor.Disconnect(srv.ID, "")
		a.logger.Info("updated server", "id", srv.ID)
		return nil

	case "rm", "delete":
		if err := a.store.Delete(ctx, *id); err != nil {
			return err
		}
		a.executor.Disconnect(*id, "")
		a.logger.Info("removed server", "id", *id)
		return nil
	}
	return fmt.Errorf("unknown servers subcommand %q (want list, get, add, update, or rm)", sub)
}
