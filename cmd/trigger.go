package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/orionmind/internal/config"
	"github.com/nextlevelbuilder/orionmind/internal/triggers"
)

func loadTriggerEngine() (*triggers.Engine, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := triggers.NewEngine(slog.Default().With("component", "triggers"))
	if err := e.Load(config.ExpandHome(cfg.Triggers.Path)); err != nil {
		return nil, err
	}
	return e, nil
}

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage proactive triggers",
	}
	cmd.AddCommand(triggerListCmd())
	cmd.AddCommand(triggerAddCmd())
	cmd.AddCommand(triggerRemoveCmd())
	return cmd
}

func triggerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadTriggerEngine()
			if err != nil {
				return err
			}
			for _, tr := range e.List() {
				cmd.Printf("%-24s type=%-10s enabled=%-5v cooldown=%s\n", tr.Name, tr.Type, tr.Enabled, tr.Cooldown)
			}
			return nil
		},
	}
}

var (
	triggerAddType     string
	triggerAddSchedule string
	triggerAddPattern  string
	triggerAddMessage  string
	triggerAddCooldown string
)

func triggerAddCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadTriggerEngine()
			if err != nil {
				return err
			}
			def := triggers.Definition{
				Name:     args[0],
				Type:     triggers.Type(triggerAddType),
				Schedule: triggerAddSchedule,
				Pattern:  triggerAddPattern,
				Message:  triggerAddMessage,
				Cooldown: triggerAddCooldown,
				Enabled:  true,
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := e.Add(def); err != nil {
				return err
			}
			if err := e.Save(config.ExpandHome(cfg.Triggers.Path)); err != nil {
				return err
			}
			cmd.Println(args[0] + ": added")
			return nil
		},
	}
	c.Flags().StringVar(&triggerAddType, "type", "", "trigger type (schedule, inactivity, keyword)")
	c.Flags().StringVar(&triggerAddSchedule, "schedule", "", "cron expression, for schedule triggers")
	c.Flags().StringVar(&triggerAddPattern, "pattern", "", "comma-separated keywords, for keyword triggers")
	c.Flags().StringVar(&triggerAddMessage, "message", "", "message template to send when fired")
	c.Flags().StringVar(&triggerAddCooldown, "cooldown", "1h", "minimum duration between fires")
	return c
}

func triggerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadTriggerEngine()
			if err != nil {
				return err
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if err := e.Remove(args[0]); err != nil {
				return err
			}
			if err := e.Save(config.ExpandHome(cfg.Triggers.Path)); err != nil {
				return err
			}
			cmd.Println(args[0] + ": removed")
			return nil
		},
	}
}
