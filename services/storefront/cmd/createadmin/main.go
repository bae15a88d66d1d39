// Command createadmin provisions an approved admin account.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"ebookstore/internal/util"
	"ebookstore/pkg/store"
	"ebookstore/services/storefront/internal/app"
	"ebookstore/services/storefront/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "createadmin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, databaseURL, fullName, email string
	flagSet := pflag.NewFlagSet("createadmin", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config.yaml (defaults to STOREFRONT_CONFIG or ./config.yaml)")
	flagSet.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string; overrides the config file")
	flagSet.StringVar(&fullName, "name", "", "admin full name")
	flagSet.StringVar(&email, "email", "", "admin email")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	util.InitLogger("warn")
	if databaseURL == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		databaseURL = cfg.DatabaseURL
	}

	in := bufio.NewReader(os.Stdin)
	var err error
	if fullName == "" {
		if fullName, err = prompt(in, "Full name: "); err != nil {
			return err
		}
	}
	if email == "" {
		if email, err = prompt(in, "Email: "); err != nil {
			return err
		}
	}
	password, err := readPassword(in)
	if err != nil {
		return err
	}

	s, err := store.NewGormStore(databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	user, err := app.CreateAdmin(s, fullName, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "created admin %s (%s)\n", user.Email, user.ID)
	return nil
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword prompts twice with echo disabled on a terminal, or reads one
// line from piped stdin.
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password confirmation: %w", err)
	}
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
