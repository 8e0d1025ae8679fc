package cmd

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/orionmind/internal/auth"
	"github.com/nextlevelbuilder/orionmind/internal/config"
)

func loadBroker() (*auth.Broker, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return auth.New(config.ExpandHome(cfg.Auth.Dir), cfg.Providers.Local.BaseURL, slog.Default().With("component", "auth")), nil
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
	}
	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())
	return cmd
}

func authLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Log in to an OAuth-capable provider (openai, gemini)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := loadBroker()
			if err != nil {
				return err
			}
			provider := args[0]

			ok, err := broker.Login(provider, func(verificationURL, userCode string) {
				var proceed bool
				form := huh.NewForm(huh.NewGroup(
					huh.NewNote().
						Title(fmt.Sprintf("%s login required", provider)).
						Description(fmt.Sprintf("Open %s and enter code: %s", verificationURL, userCode)),
					huh.NewConfirm().
						Title("Press enter once you have authorized the device").
						Affirmative("Continue").
						Negative("Cancel").
						Value(&proceed),
				))
				_ = form.Run()
			})
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println(provider + ": login not supported, use an API key instead")
				return nil
			}
			cmd.Println(provider + ": logged in")
			return nil
		},
	}
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <provider>",
		Short: "Clear stored OAuth credentials for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := loadBroker()
			if err != nil {
				return err
			}
			if err := broker.Logout(args[0]); err != nil {
				return err
			}
			cmd.Println(args[0] + ": logged out")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show auth and reachability status for every provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			broker, err := loadBroker()
			if err != nil {
				return err
			}
			for name, status := range broker.Status() {
				cmd.Printf("%-12s available=%-5v auth=%-8s model=%s\n", name, status.Available, status.AuthType, status.Model)
			}
			return nil
		},
	}
}
