// Command pinlogin walks a terminal user through PIN and email-code sign-in.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clinic-intake-api/internal/client/api"
	"github.com/clinic-intake-api/internal/client/authflow"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	v := viper.New()
	v.SetDefault("PINLOGIN_API_URL", "http://localhost:3000/v1")
	v.SetDefault("PINLOGIN_LOG_LEVEL", "warn")
	v.AutomaticEnv()

	apiURL := flag.String("api", v.GetString("PINLOGIN_API_URL"), "base URL of the auth API")
	flag.Parse()

	if _, err := logger.Init("development", v.GetString("PINLOGIN_LOG_LEVEL"), "console"); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client := api.NewClient(*apiURL)
	ctrl := authflow.New(client, authflow.NewMemoryState())
	if err := run(context.Background(), ctrl, client, os.Stdin, os.Stdout); err != nil && !errors.Is(err, io.EOF) {
		logger.L().Error("pinlogin", zap.Error(err))
		os.Exit(1)
	}
}

type logoutAPI interface {
	Logout(ctx context.Context, bearer string) error
}

func run(ctx context.Context, ctrl *authflow.Controller, client logoutAPI, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := func(label string) (string, error) {
		fmt.Fprint(out, label)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	for {
		var err error
		switch s := ctrl.State().(type) {
		case authflow.EnteringPin:
			if s.LastError != nil {
				fmt.Fprintln(out, "!", s.LastError)
			}
			pin, perr := prompt("PIN: ")
			if perr != nil {
				return perr
			}
			_, err = ctrl.SubmitPIN(ctx, pin)

		case authflow.LockedOut:
			wait := ctrl.Countdown(time.Now())
			fmt.Fprintf(out, "Too many attempts. Try again in %s.\n", wait.Round(time.Second))
			if s.SupportContact != "" {
				fmt.Fprintf(out, "Need help? Contact %s.\n", s.SupportContact)
			}
			line, perr := prompt("Press enter to retry, or type cancel: ")
			if perr != nil {
				return perr
			}
			if strings.EqualFold(line, "cancel") {
				ctrl.Cancel()
				continue
			}
			if _, rerr := ctrl.Retry(); errors.Is(rerr, authflow.ErrStillLockedOut) {
				continue
			}

		case authflow.AwaitingCode:
			if s.LastError != nil {
				fmt.Fprintln(out, "!", s.LastError)
			}
			verb := "Enter the code sent to"
			if s.Purpose == authflow.Enrollment {
				verb = "Confirm your email: enter the code sent to"
			}
			fmt.Fprintf(out, "%s %s (expires %s).\n", verb, s.Destination, s.ExpiresAt.Local().Format(time.Kitchen))
			if wait := ctrl.Countdown(time.Now()); wait > 0 {
				fmt.Fprintf(out, "Resend available in %s.\n", wait.Round(time.Second))
			}
			line, perr := prompt("Code (or resend / cancel): ")
			if perr != nil {
				return perr
			}
			switch strings.ToLower(line) {
			case "resend":
				_, err = ctrl.Resend(ctx)
			case "cancel":
				ctrl.Cancel()
			default:
				_, err = ctrl.SubmitCode(ctx, line)
			}

		case authflow.Authenticated:
			fmt.Fprintf(out, "Signed in as %s %s (%s). Session valid until %s.\n",
				s.User.FirstName, s.User.LastName, s.User.Class, s.ExpiresAt.Local().Format(time.RFC1123))
			line, perr := prompt("Type logout to sign out: ")
			if perr != nil {
				return perr
			}
			if strings.EqualFold(line, "logout") {
				if lerr := client.Logout(ctx, s.AccessToken); lerr != nil {
					logger.L().Warn("logout", zap.Error(lerr))
				}
				ctrl.SignOut()
				fmt.Fprintln(out, "Signed out.")
				return nil
			}
		}

		if errors.Is(err, authflow.ErrTransport) {
			fmt.Fprintln(out, "! Could not reach the server. Check your connection and try again.")
		} else if err != nil {
			return err
		}
	}
}
