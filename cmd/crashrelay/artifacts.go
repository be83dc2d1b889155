package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/attach"
	"github.com/sznuper/crashrelay/internal/config"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List the configured artifacts and where reports point to them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		o := cfg.Options

		fmt.Printf("%s %s\n", okStyle.Render("Attachments:"), attachmentSummary(cfg))
		if len(cfg.Artifacts) == 0 {
			fmt.Println("  no artifacts configured")
			return nil
		}

		names := make([]string, 0, len(cfg.Artifacts))
		for name := range cfg.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			rel := cfg.Artifacts[name]
			fmt.Printf("%s %s\n", labelStyle.Render(name+":"), rel)
			if o.ArtifactsDir != "" {
				local := filepath.Join(o.ArtifactsDir, strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator)))
				state := "missing"
				if info, err := os.Stat(local); err == nil {
					state = fmt.Sprintf("%d bytes", info.Size())
				}
				printField("Local", local+" ("+state+")")
			}
			if o.ArtifactBaseURL != "" {
				printField("Link", attach.JoinURL(o.ArtifactBaseURL, rel))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
}

// attachmentSummary describes which attachment strategy reports will use.
func attachmentSummary(cfg *config.Config) string {
	o := cfg.Options
	switch {
	case o.ArchiveURL != "":
		return "external " + o.ArchiveURL
	case !o.LocalAttachmentsEnabled():
		return "disabled"
	case o.AttachmentMode == string(attach.ModeLinked):
		return "linked " + o.ArtifactBaseURL
	default:
		return "inline"
	}
}

// redactURL hides the credentials Shoutrrr URLs carry in their user info.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("redacted")
	return u.String()
}
