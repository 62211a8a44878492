// Command relay-server runs a multi-channel chat relay that bridges
// rooms to AI agent runtimes and projects streaming agent replies into
// bounded chat deliveries.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nicebartender/relay-server/agentwire"
	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/paircode"
	"github.com/nicebartender/relay-server/projector"
	"github.com/nicebartender/relay-server/relay"
	"github.com/nicebartender/relay-server/rpc"
	"github.com/nicebartender/relay-server/ws"
)

var (
	flagAddr        string
	flagDB          string
	flagExternalURL string
	flagConfig      string
)

var rootCmd = &cobra.Command{
	Use:   "relay-server",
	Short: "Chat relay bridging rooms to AI agent runtimes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Listen address (default :8090, or $PORT)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default relay.db)")
	rootCmd.PersistentFlags().StringVar(&flagExternalURL, "external-url", "", "External URL advertised in pairing codes")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to JSONC config file")
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func runServe() error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	// Projection defaults live behind an atomic pointer so the config
	// watcher can swap them while turns are running.
	defaults := &atomic.Pointer[projector.Overrides]{}
	initial := cfg.Projection
	defaults.Store(&initial)
	if cfg.ConfigPath != "" {
		if err := watchProjection(cfg.ConfigPath, defaults); err != nil {
			slog.Warn("config watch unavailable", "err", err)
		}
	}

	hub := ws.NewHub(database)

	pool := agentwire.NewPool()
	defer pool.Close()

	dispatcher := relay.NewDispatcher(database, hub, func(url, token string) (relay.AgentClient, error) {
		return pool.Get(url, token)
	})
	dispatcher.Defaults = func() projector.Overrides { return *defaults.Load() }

	router := rpc.NewRouter(hub, database, dispatcher)
	router.ExternalURL = cfg.ExternalURL
	router.Defaults = dispatcher.Defaults

	go hub.Run()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade failed", "err", err)
			return
		}
		client := ws.NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	// Health check
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Pairing preview: decodes a universal code, validates the invite,
	// returns room info. Nothing is redeemed until the client joins.
	http.HandleFunc("/pair/", func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/pair/")
		if code == "" {
			http.Error(w, `{"error":"missing code"}`, http.StatusBadRequest)
			return
		}

		_, inviteCode, err := paircode.Decode(code)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid code: " + err.Error()})
			return
		}

		invite, err := database.LookupInvite(inviteCode)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		room, err := database.GetRoom(invite.RoomID)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "room not found"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"serverURL":  "https://" + cfg.ExternalURL,
			"inviteCode": inviteCode,
			"roomName":   room.Name,
			"roomEmoji":  room.Emoji,
		})
	})

	slog.Info("relay-server starting", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
