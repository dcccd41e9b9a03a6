package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/client"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/log"
)

const infoWidth = 80

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF60FF"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B50FF"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#858392"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#DFDBDD"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#12C78F"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#605F6B"))
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration information",
	Long:  `Display the active config file, log path, sandbox backend, configured providers and the status of the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		sections := []string{
			heading(titleStyle, "Configuration Information"),
			"",
			renderConfigSection(cfg),
			"",
			renderProvidersSection(cfg),
			"",
			renderServerSection(cmd, cfg),
		}
		fmt.Fprintln(cmd.OutOrStdout(), lipgloss.JoinVertical(lipgloss.Left, sections...))
		return nil
	},
}

func heading(style lipgloss.Style, title string) string {
	line := strings.Repeat("─", max(0, infoWidth-lipgloss.Width(title)-1))
	return style.Render(title) + " " + mutedStyle.Render(line)
}

func detail(label, value string) string {
	return fmt.Sprintf("%s %s", subtleStyle.Render(label+":"), textStyle.Render(value))
}

func renderConfigSection(cfg *config.Config) string {
	configFile := cfg.ConfigFile()
	if configFile == "" {
		configFile = "No configuration file found (using defaults)"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		detail("Configuration File", configFile),
		detail("Log Path", cfg.LogFile()),
		detail("Working Directory", cfg.WorkingDir()),
		detail("Data Directory", cfg.DataDir),
		detail("Artifacts Directory", cfg.ArtifactsDir),
		detail("Knowledge Index", cfg.Knowledge.Database),
		detail("Listen Address", cfg.Addr()),
		detail("Sandbox Backend", cfg.Sandbox.Backend),
	)
}

func renderProvidersSection(cfg *config.Config) string {
	lines := []string{heading(sectionStyle, "Providers"), ""}
	if len(cfg.Providers) == 0 {
		lines = append(lines, mutedStyle.Render("  No providers configured"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, name := range cfg.ProviderNames() {
		p := cfg.Providers[name]
		status := mutedStyle.Render("configured")
		if name == cfg.Sandbox.Provider {
			status = successStyle.Render("active")
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			textStyle.Render("•"),
			titleStyle.Render(fmt.Sprintf("%s (%s):", name, p.Type)),
			status))
		lines = append(lines, "    "+detail("Model", p.Model))
		if p.BaseURL != "" {
			lines = append(lines, "    "+detail("URL", p.BaseURL))
		}
		if p.APIKey != "" {
			lines = append(lines, "    "+detail("API Key", log.MaskAPIKey(p.APIKey)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderServerSection(cmd *cobra.Command, cfg *config.Config) string {
	lines := []string{heading(sectionStyle, "Server"), ""}
	url := ServerURL(cmd, cfg)
	lines = append(lines, "  "+detail("URL", url))

	c, err := client.NewClient(url)
	if err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, append(lines, "  "+mutedStyle.Render(err.Error()))...)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	health, err := c.Health(ctx)
	if err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, append(lines, "  "+mutedStyle.Render("not reachable"))...)
	}
	lines = append(lines,
		"  "+detail("Status", successStyle.Render(health.Status)),
		"  "+detail("Model", health.Model),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
