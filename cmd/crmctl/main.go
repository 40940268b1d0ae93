// Command crmctl signs in to the CRM auth service from a terminal and keeps
// the session token in a file between invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/session"

	"go.uber.org/zap"
)

const usage = `usage: crmctl [flags] <command> [args]

commands:
  login <email> <password>
  register <first> <last> <email> <password> <organization>
  whoami
  logout
  forgot <email>
  check-reset <token>
  reset <token> <new-password>

flags:
`

const defaultServerURL = "http://localhost:" + config.DefaultPort

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".crm-session"
	}
	return filepath.Join(dir, "crm", "session")
}

func main() {
	server := flag.String("server", envOr("CRM_API_URL", defaultServerURL), "auth service base URL")
	sessionFile := flag.String("session", defaultSessionPath(), "file holding the session token")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			log = l
		}
	}
	defer log.Sync()

	client := session.NewClient(*server, *timeout)
	store := session.NewStore(client, session.FileStorage{Path: *sessionFile}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*(*timeout))
	defer cancel()

	if err := run(ctx, client, store, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *session.Client, store *session.Store, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 2 {
			return errors.New("login needs <email> <password>")
		}
		if err := store.Login(ctx, args[0], args[1]); err != nil {
			return err
		}
		return printSession(store.State())

	case "register":
		if len(args) != 5 {
			return errors.New("register needs <first> <last> <email> <password> <organization>")
		}
		err := store.Register(ctx, session.RegisterRequest{
			FirstName:        args[0],
			LastName:         args[1],
			Email:            args[2],
			Password:         args[3],
			OrganizationName: args[4],
		})
		if err != nil {
			return err
		}
		return printSession(store.State())

	case "whoami":
		if err := store.InitializeAuth(ctx); err != nil {
			return err
		}
		st, err := store.RequireAuth(ctx)
		if err != nil {
			return err
		}
		return printSession(st)

	case "logout":
		store.Logout(ctx)
		fmt.Println("Logged out")
		return nil

	case "forgot":
		if len(args) != 1 {
			return errors.New("forgot needs <email>")
		}
		msg, err := client.ForgotPassword(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "check-reset":
		if len(args) != 1 {
			return errors.New("check-reset needs <token>")
		}
		ok, err := client.VerifyResetToken(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("invalid or expired reset token")
		}
		fmt.Println("Reset token is valid")
		return nil

	case "reset":
		if len(args) != 2 {
			return errors.New("reset needs <token> <new-password>")
		}
		msg, err := client.ResetPassword(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printSession(st session.State) error {
	if st.User == nil {
		return session.ErrNotAuthenticated
	}
	fmt.Printf("%s %s <%s> role=%s\n", st.User.FirstName, st.User.LastName, st.User.Email, st.User.Role)
	if st.Organization != nil {
		fmt.Printf("organization: %s (%s) plan=%s\n", st.Organization.Name, st.Organization.Slug, st.Organization.Plan)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
