package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/loom/internal/observability"
	"github.com/tessellate-ai/loom/internal/skills"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills (SKILL.md-based)",
		Long: `Manage skills that extend agent capabilities.

Each skill is a directory containing a SKILL.md file with YAML
frontmatter (name, description) and a markdown body of instructions.`,
	}
	cmd.AddCommand(buildSkillsListCmd(), buildSkillsShowCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openSkills(cmd, cfgPath)
			if err != nil {
				return err
			}
			defer manager.Close()

			all := manager.List()
			if len(all) == 0 {
				fmt.Println("No skills found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\tPATH")
			for _, skill := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\n", skill.Name, skill.Description, skill.Path)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildSkillsShowCmd() *cobra.Command {
	var cfgPath string
	var showContent bool
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show skill details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openSkills(cmd, cfgPath)
			if err != nil {
				return err
			}
			defer manager.Close()

			skill, ok := manager.Get(args[0])
			if !ok {
				return fmt.Errorf("skill not found: %s", args[0])
			}

			fmt.Printf("Name:        %s\n", skill.Name)
			fmt.Printf("Description: %s\n", skill.Description)
			if skill.Homepage != "" {
				fmt.Printf("Homepage:    %s\n", skill.Homepage)
			}
			fmt.Printf("Path:        %s\n", skill.Path)

			if showContent {
				content, err := manager.LoadContent(skill.Name)
				if err != nil {
					return err
				}
				fmt.Println()
				fmt.Println(content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&showContent, "content", false, "Show full skill content")
	return cmd
}

func openSkills(cmd *cobra.Command, cfgPath string) (*skills.Manager, error) {
	cfg, err := loadConfig(configPath(cfgPath))
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	manager := skills.NewManager(skills.Config{Dirs: cfg.Skills.Dirs}, logger)
	if err := manager.Discover(cmd.Context()); err != nil {
		return nil, err
	}
	return manager, nil
}
