package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/orionmind/internal/config"
	"github.com/nextlevelbuilder/orionmind/internal/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate the permission policy",
	}
	cmd.AddCommand(policyValidateCmd())
	cmd.AddCommand(policyReloadCmd())
	return cmd
}

func loadPolicyEngine() (*policy.Engine, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := policy.NewEngine(slog.Default())
	if err := e.Load(config.ExpandHome(cfg.Policy.Path)); err != nil {
		return nil, err
	}
	return e, nil
}

func policyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the permission policy file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadPolicyEngine(); err != nil {
				return err
			}
			cmd.Println("policy OK")
			return nil
		},
	}
}

func policyReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Validate the current policy file as if hot-reloading it",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadPolicyEngine()
			if err != nil {
				return err
			}
			if err := e.Reload(); err != nil {
				return err
			}
			cmd.Println("policy reloaded")
			return nil
		},
	}
}
