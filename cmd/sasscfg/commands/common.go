package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/techblog/sasscfg/pkg/config"
	"github.com/techblog/sasscfg/pkg/stores"
	"github.com/techblog/sasscfg/pkg/telemetry"
)

// resolveTarget picks the settings file for a command: --config wins over
// the path argument, and directories are searched for a settings file.
func resolveTarget(args []string) (string, error) {
	arg := configPath
	if arg == "" && len(args) > 0 {
		arg = args[0]
	}
	path, err := config.ResolvePath(arg)
	if err != nil {
		return "", err
	}
	return path, nil
}

// newLoader builds a loader from the global flags.
func newLoader(applyDefaults bool, extraSchemas []string) (*config.Loader, error) {
	return config.NewLoader(log.Logger, config.LoadOptions{
		Strict:        strict,
		ApplyDefaults: applyDefaults,
		Environment:   os.Getenv("SASSCFG_ENV"),
		ExtraSchemas:  extraSchemas,
	})
}

// loadSettings resolves and loads the settings file named by args.
func loadSettings(ctx context.Context, args []string, applyDefaults bool) (*config.LoadedConfig, error) {
	path, err := resolveTarget(args)
	if err != nil {
		return nil, err
	}

	loader, err := newLoader(applyDefaults, nil)
	if err != nil {
		return nil, err
	}

	lc, err := telemetry.TrackLoad(ctx, path, func(ctx context.Context) (*config.LoadedConfig, error) {
		return loader.Load(ctx, path)
	})
	if lc != nil {
		logDiagnostics(lc)
	}
	return lc, err
}

// logDiagnostics reports non-error findings; errors come back from Load.
func logDiagnostics(lc *config.LoadedConfig) {
	for _, d := range lc.Diagnostics {
		if d.Severity == config.SeverityError {
			continue
		}
		log.Warn().
			Str("source", lc.Source).
			Str("severity", d.Severity).
			Msg(d.String())
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// defaultDBPath returns the history database for a settings file:
// $SASSCFG_DB when set, else .sasscfg/history.db next to the file.
func defaultDBPath(settingsPath string) string {
	if env := os.Getenv("SASSCFG_DB"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(settingsPath), ".sasscfg", "history.db")
}

// openStore opens the history database, creating its directory.
func openStore(ctx context.Context, dbPath string) (*stores.SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dbPath), err)
		}
	}
	store, err := stores.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", dbPath, err)
	}
	return store, nil
}

// sourceKey is the path snapshots of a settings file are stored under.
func sourceKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}
