package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"civictrack/auth"
	"civictrack/config"
	"civictrack/logger"
	"civictrack/models"
	"civictrack/services"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type createAdminOptions struct {
	name     string
	email    string
	password string
	role     string
}

// newCreateAdminCommand bootstraps the first admin; later accounts are
// made through the admin API.
func newCreateAdminCommand() *cobra.Command {
	opts := &createAdminOptions{}
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin or staff account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateAdmin(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&opts.email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&opts.role, "role", string(models.RoleAdmin), "account role: admin or staff")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runCreateAdmin(cmd *cobra.Command, opts *createAdminOptions) error {
	role, err := models.ParseRole(opts.role)
	if err != nil {
		return err
	}
	if !role.HandlesIssues() {
		return errors.New("create-admin only creates staff or admin accounts")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Log, false); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	password := opts.password
	if password == "" {
		if password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	identity := services.NewIdentityService(st, auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))
	user, err := identity.CreateUser(ctx, services.RegisterInput{
		Name:     opts.name,
		Email:    opts.email,
		Password: password,
		Role:     role,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID.Hex())
	return nil
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
