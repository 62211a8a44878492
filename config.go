package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/nicebartender/relay-server/projector"
)

type Config struct {
	ListenAddr  string
	DBPath      string
	ExternalURL string

	// ConfigPath is set when a config file was loaded; it enables hot
	// reload of the projection defaults.
	ConfigPath string

	// Projection holds the server-wide projection defaults. Rooms layer
	// their own overrides on top via settings.update.
	Projection projector.Overrides
}

// configFile is the JSONC shape of the optional config file. Comments
// and trailing commas are allowed.
type configFile struct {
	Addr        string               `json:"addr"`
	DB          string               `json:"db"`
	ExternalURL string               `json:"externalUrl"`
	Projection  *projector.Overrides `json:"projection"`
}

// buildConfig resolves configuration as flag > env > config file >
// defaults. The config file path itself resolves as flag > RELAY_CONFIG.
func buildConfig() (Config, error) {
	cfg := Config{
		ListenAddr: defaultAddr(),
		DBPath:     "relay.db",
	}

	path := flagConfig
	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	if path != "" {
		file, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ConfigPath = path
		if file.Addr != "" {
			cfg.ListenAddr = file.Addr
		}
		if file.DB != "" {
			cfg.DBPath = file.DB
		}
		if file.ExternalURL != "" {
			cfg.ExternalURL = file.ExternalURL
		}
		if file.Projection != nil {
			cfg.Projection = *file.Projection
		}
	}

	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RELAY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RELAY_EXTERNAL_URL"); v != "" {
		cfg.ExternalURL = v
	}

	if flagAddr != "" {
		cfg.ListenAddr = flagAddr
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagExternalURL != "" {
		cfg.ExternalURL = flagExternalURL
	}

	return cfg, nil
}

func loadConfigFile(path string) (configFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return configFile{}, fmt.Errorf("read config: %w", err)
	}
	var file configFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return configFile{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

func defaultAddr() string {
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8090"
}

// watchProjection reloads the projection defaults whenever the config
// file changes. Address, database and URL changes still need a restart.
// Editors tend to replace files rather than write them in place, so the
// watch covers the parent directory and events are filtered by name.
func watchProjection(path string, store *atomic.Pointer[projector.Overrides]) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	name := filepath.Base(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				file, err := loadConfigFile(path)
				if err != nil {
					slog.Warn("config reload failed", "path", path, "err", err)
					continue
				}
				next := projector.Overrides{}
				if file.Projection != nil {
					next = *file.Projection
				}
				store.Store(&next)
				slog.Info("projection defaults reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			}
		}
	}()

	return nil
}
