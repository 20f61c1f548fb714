package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"automatosx/internal/agent"
)

func newAgentCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect and create agent profiles",
	}
	cmd.AddCommand(
		newAgentListCmd(state),
		newAgentShowCmd(state),
		newAgentCreateCmd(state),
	)
	return cmd
}

func newAgentListCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all agent profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			profiles, err := app.Loader.GetAllProfiles()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				name := p.Name
				if p.DisplayName != "" {
					name = fmt.Sprintf("%s (%s)", p.Name, p.DisplayName)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", name, p.Role)
			}
			return nil
		},
	}
}

func newAgentShowCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			p, err := app.Loader.LoadProfile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:      %s\n", p.Name)
			if p.DisplayName != "" {
				fmt.Fprintf(out, "Display:   %s\n", p.DisplayName)
			}
			if p.Team != "" {
				fmt.Fprintf(out, "Team:      %s\n", p.Team)
			}
			if p.Role != "" {
				fmt.Fprintf(out, "Role:      %s\n", p.Role)
			}
			if p.Model != "" {
				fmt.Fprintf(out, "Model:     %s\n", p.Model)
			}
			if len(p.Abilities) > 0 {
				fmt.Fprintf(out, "Abilities: %s\n", strings.Join(p.Abilities, ", "))
			}
			if len(p.Stages) > 0 {
				fmt.Fprintln(out, "Stages:")
				for i, s := range p.Stages {
					fmt.Fprintf(out, "  %d. %s - %s\n", i+1, s.Name, s.Description)
				}
			}
			fmt.Fprintf(out, "Max delegation depth: %d\n", p.MaxDelegationDepth())
			return nil
		},
	}
}

func newAgentCreateCmd(state *rootState) *cobra.Command {
	var (
		template    string
		team        string
		role        string
		displayName string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent profile from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			name := args[0]
			if !agent.ValidName(name) {
				return fmt.Errorf("invalid agent name %q: must match ^[a-z][a-z0-9-]{1,49}$", name)
			}

			dest := filepath.Join(app.Layout.AgentsDir(), name+".yaml")
			if _, err := os.Stat(dest); err == nil && !force {
				return fmt.Errorf("agent %q already exists (use --force to overwrite)", name)
			}

			rendered, err := agent.RenderTemplateFile(app.Layout.TemplatesDir(), template, map[string]string{
				"AGENT_NAME":   name,
				"DISPLAY_NAME": displayName,
				"TEAM":         team,
				"ROLE":         role,
			})
			if err != nil {
				return err
			}

			if err := os.WriteFile(dest, []byte(rendered), 0o644); err != nil {
				return err
			}
			app.Loader.Invalidate(name)

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", "basic-agent", "template name under templates/")
	cmd.Flags().StringVar(&team, "team", "", "team the agent belongs to")
	cmd.Flags().StringVar(&role, "role", "", "short role description")
	cmd.Flags().StringVar(&displayName, "display-name", "", "human friendly display name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing profile")
	return cmd
}
