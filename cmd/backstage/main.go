package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"backstage/cmd/internal/app"
)

const usage = `usage:
  backstage [serve]                 run the HTTP server
  backstage admin-token [flags]     print a signed admin bearer token
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = app.Run()
	case "admin-token":
		err = adminToken(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func adminToken(args []string) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject, recorded as created_by on new invites")
	role := fs.String("role", "admin", "role claim; must be listed in BACKSTAGE_ADMIN_ROLES")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	tok, err := app.IssueAdminToken(app.LoadConfig(), *subject, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, tok)
	return nil
}
