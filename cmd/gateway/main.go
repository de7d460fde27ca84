// Package main is the entrypoint for the app-gateway (binary name "gateway" in Docker).
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/morezero/app-gateway/internal/config"
	"github.com/morezero/app-gateway/internal/server"
	"github.com/morezero/app-gateway/pkg/db"
	"github.com/morezero/app-gateway/pkg/permissions"
	"github.com/morezero/app-gateway/pkg/resolver"
	"github.com/morezero/app-gateway/pkg/services"
)

const usage = `Usage: gateway [command]
       gateway serve                      Start the gateway (COMMS, HTTP admin, dispatcher).
       gateway check [file...]            Validate resolution files against the service catalog.
       gateway migrate up                 Run database migrations.
       gateway migrate status             Show migration files and whether the schema is present.
       gateway grants list <app>          List permission groups granted to an app.
       gateway grants add <app> <group>   Grant a permission group.
       gateway grants revoke <app> <group> Revoke a permission group.
       gateway grants seed                Insert the grants from GATEWAY_PERMISSIONS.
       gateway token <app> <g1|g2> [ttl]  Issue a signed caller token (default ttl 24h).

Commands:
  serve      (default) Start the app gateway.
  check      Load resolution files (default GATEWAY_RESOLUTION_FILES) and report problems.
  migrate    Manage the permission grant schema.
  grants     Manage permission grants stored in the database.
  token      Sign a token for permissions mode jwt using GATEWAY_JWT_SECRET.

Environment: COMMS_URL, GATEWAY_RESOLUTION_FILES, GATEWAY_SERVICE_CATALOG, GATEWAY_PERMISSIONS_MODE,
GATEWAY_PERMISSIONS, GATEWAY_JWT_SECRET, DATABASE_URL (migrate, grants), MIGRATION_PATH, GATEWAY_HTTP_ADDR.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "check":
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("gateway check: load config: %v", err)
		}
		files := args[1:]
		if len(files) == 0 {
			files = cfg.ResolutionFiles
		}
		if err := runCheck(os.Stdout, files, cfg.ServiceCatalog); err != nil {
			log.Fatalf("gateway check: %v", err)
		}
		return
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("gateway migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("gateway migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(os.Stdout); err != nil {
				log.Fatalf("gateway migrate status: %v", err)
			}
		default:
			log.Fatalf("gateway migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "grants":
		if err := runGrants(os.Stdout, args[1:]); err != nil {
			log.Fatalf("gateway grants: %v", err)
		}
		return
	case "token":
		if err := runToken(os.Stdout, args[1:]); err != nil {
			log.Fatalf("gateway token: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

// runCheck loads each file into a fresh table and checks that every alias resolves in the catalog.
func runCheck(w io.Writer, files []string, catalogPath string) error {
	if len(files) == 0 {
		return fmt.Errorf("no resolution files given")
	}

	res := resolver.NewResolver()
	failed := 0
	for _, f := range files {
		err := res.LoadFile(f)
		if err == nil {
			fmt.Fprintf(w, "ok      %s\n", f)
			continue
		}
		failed++
		fmt.Fprintf(w, "FAILED  %s: %v\n", f, err)
	}

	var catalog *services.Catalog
	if catalogPath != "" {
		c, err := services.LoadCatalog(catalogPath)
		if err != nil {
			fmt.Fprintf(w, "catalog %s not checked: %v\n", catalogPath, err)
		} else {
			catalog = c
		}
	}

	unresolved := 0
	if catalog != nil {
		for _, e := range res.Entries() {
			if _, err := catalog.Resolve(e.Alias); err != nil {
				unresolved++
				fmt.Fprintf(w, "WARN    %s -> %s: %v\n", e.Method, e.Alias, err)
			}
		}
	}

	fmt.Fprintf(w, "%d method(s) from %d of %d file(s)", res.Len(), len(files)-failed, len(files))
	if catalog != nil {
		fmt.Fprintf(w, ", %d unresolved alias(es)", unresolved)
	}
	fmt.Fprintln(w)

	if failed > 0 {
		return fmt.Errorf("%d resolution file(s) rejected", failed)
	}
	return nil
}

func openDB(ctx context.Context) (*config.Config, *db.PermissionRepository, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, db.NewPermissionRepository(pool), pool.Close, nil
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	migrations, err := db.ListMigrations(cfg.MigrationPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	present, err := db.SchemaPresent(ctx, pool)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		fmt.Fprintf(w, "  %s\n", m.Name)
	}
	fmt.Fprintf(w, "%d migration file(s) in %s; schema present: %t\n", len(migrations), cfg.MigrationPath, present)
	return nil
}

func runGrants(w io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("require subcommand (list, add, revoke, seed)")
	}
	sub := args[0]
	need := map[string]int{"list": 1, "add": 2, "revoke": 2, "seed": 0}
	n, ok := need[sub]
	if !ok {
		return fmt.Errorf("unknown subcommand %q (use list, add, revoke, seed)", sub)
	}
	if len(args)-1 != n {
		return fmt.Errorf("%s takes %d argument(s)", sub, n)
	}

	ctx := context.Background()
	cfg, repo, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	switch sub {
	case "list":
		groups, err := repo.Grants(ctx, args[1])
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Fprintln(w, g)
		}
	case "add":
		if err := repo.Grant(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(w, "granted %s to %s\n", args[2], args[1])
	case "revoke":
		removed, err := repo.Revoke(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(w, "%s did not hold %s\n", args[1], args[2])
			return nil
		}
		fmt.Fprintf(w, "revoked %s from %s\n", args[2], args[1])
	case "seed":
		grants, err := permissions.ParseGrants(cfg.Permissions)
		if err != nil {
			return fmt.Errorf("GATEWAY_PERMISSIONS: %w", err)
		}
		inserted, err := repo.SeedGrants(ctx, grants)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "seeded %d grant(s)\n", inserted)
	}
	return nil
}

func runToken(w io.Writer, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: gateway token <app> <g1|g2> [ttl]")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("GATEWAY_JWT_SECRET is required")
	}
	return issueToken(w, cfg.JWTSecret, args)
}

func issueToken(w io.Writer, secret string, args []string) error {
	ttl := 24 * time.Hour
	if len(args) == 3 {
		d, err := time.ParseDuration(args[2])
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid ttl %q", args[2])
		}
		ttl = d
	}
	var groups []string
	for _, g := range strings.Split(args[1], "|") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	token, err := permissions.NewJWT(secret).IssueToken(args[0], groups, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}
