package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/client"
)

const usage = `usage: authcli <command> [flags]

commands:
  register -email <email> -password <password>
  login    -email <email> -password <password>
  profile
  logout

environment:
  AUTH_API_URL     base URL of the auth service (default http://localhost:3001)
  AUTH_TOKEN_FILE  path of the durable refresh token file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	baseURL := os.Getenv("AUTH_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	tokenFile := os.Getenv("AUTH_TOKEN_FILE")
	if tokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.WithError(err).Fatal("Cannot determine home directory")
		}
		tokenFile = filepath.Join(home, ".authcli", "refresh_token")
	}

	c := client.New(baseURL, client.NewFileTokenStore(tokenFile), client.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, c, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, command string, args []string) error {
	switch command {
	case "register":
		email, password, err := credentialFlags("register", args)
		if err != nil {
			return err
		}
		result, err := c.Register(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Printf("%s (id=%s)\n", result.Message, result.User.ID)
		return nil

	case "login":
		email, password, err := credentialFlags("login", args)
		if err != nil {
			return err
		}
		user, err := c.Login(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s (id=%s)\n", user.Email, user.ID)
		return nil

	case "profile":
		// Restores the session from the durable refresh token if needed.
		user, err := c.Initialize(ctx)
		if err != nil {
			return err
		}
		if user == nil {
			fmt.Println("not logged in")
			return nil
		}
		fmt.Printf("id: %s\nemail: %s\n", user.ID, user.Email)
		return nil

	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func credentialFlags(name string, args []string) (string, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if *email == "" || *password == "" {
		return "", "", fmt.Errorf("%s requires -email and -password", name)
	}
	return *email, *password, nil
}
