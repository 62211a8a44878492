package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/paircode"
)

// rosterFile is the YAML shape consumed by `relay-server import`. It
// bootstraps rooms and their agents so a fresh deployment does not need
// a connected client to register every agent by hand.
type rosterFile struct {
	Rooms []rosterRoom `yaml:"rooms"`
}

type rosterRoom struct {
	Name      string        `yaml:"name"`
	Emoji     string        `yaml:"emoji"`
	Owner     string        `yaml:"owner"`
	OwnerName string        `yaml:"ownerName"`
	Invite    bool          `yaml:"invite"`
	Agents    []rosterAgent `yaml:"agents"`
}

type rosterAgent struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Emoji        string `yaml:"emoji"`
	GatewayURL   string `yaml:"gatewayUrl"`
	GatewayToken string `yaml:"gatewayToken"`
}

var importCmd = &cobra.Command{
	Use:   "import <roster.yaml>",
	Short: "Create rooms and register agents from a YAML roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args[0])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	var roster rosterFile
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return fmt.Errorf("parse roster %s: %w", path, err)
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	for _, r := range roster.Rooms {
		if r.Name == "" || r.Owner == "" {
			return fmt.Errorf("roster room needs name and owner (got name=%q owner=%q)", r.Name, r.Owner)
		}
		room, err := database.CreateRoom(r.Name, r.Emoji, r.Owner, r.OwnerName)
		if err != nil {
			return fmt.Errorf("create room %q: %w", r.Name, err)
		}
		fmt.Printf("room %s  %s\n", room.ID, room.Name)

		for _, a := range r.Agents {
			if a.ID == "" || a.GatewayURL == "" {
				return fmt.Errorf("agent in room %q needs id and gatewayUrl", r.Name)
			}
			name := a.Name
			if name == "" {
				name = a.ID
			}
			if err := database.AddAgentParticipant(room.ID, a.ID, name, a.Emoji, a.GatewayURL, a.GatewayToken); err != nil {
				return fmt.Errorf("add agent %q: %w", a.ID, err)
			}
			fmt.Printf("  agent %s  @%s\n", a.ID, name)
		}

		if r.Invite {
			invite, err := database.CreateInvite(room.ID, r.Owner, nil, 0)
			if err != nil {
				return fmt.Errorf("create invite for %q: %w", r.Name, err)
			}
			if cfg.ExternalURL != "" {
				fmt.Printf("  pair %s\n", paircode.Encode(cfg.ExternalURL, invite.Code))
			} else {
				fmt.Printf("  invite %s\n", invite.Code)
			}
		}
	}
	return nil
}
