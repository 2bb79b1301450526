package macrobox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/api"
	"github.com/macrobox/macrobox-cli/internal/app"
	"github.com/macrobox/macrobox-cli/internal/config"
	"github.com/macrobox/macrobox-cli/internal/db"
	"github.com/macrobox/macrobox-cli/internal/logging"
	"github.com/macrobox/macrobox-cli/internal/payment"
	"github.com/macrobox/macrobox-cli/internal/service"
	"github.com/macrobox/macrobox-cli/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// nowFunc is the clock for commands without a --now flag.
var nowFunc = time.Now

func withDB(run func(*sql.DB) error) error {
	path, err := resolveDBPath()
	if err != nil {
		return err
	}
	if err := app.EnsureDBDir(path); err != nil {
		return err
	}
	sqldb, err := db.Open(path)
	if err != nil {
		return err
	}
	defer sqldb.Close()

	if err := db.ApplyMigrations(sqldb); err != nil {
		return err
	}
	return run(sqldb)
}

// cliEnv is everything a command needs once configuration is resolved.
type cliEnv struct {
	db     *sql.DB
	cfg    config.Config
	kv     storage.KV
	client *api.Client
	log    *slog.Logger
}

func withRuntime(cmd *cobra.Command, run func(*cliEnv) error) error {
	return withDB(func(sqldb *sql.DB) error {
		cfg, err := loadConfig(sqldb, nil)
		if err != nil {
			return err
		}

		logPath := cfg.Log.File
		if logPath == "" {
			dbFile, err := resolveDBPath()
			if err != nil {
				return err
			}
			logPath = app.DefaultLogPath(dbFile)
		}
		logging.Init(logging.Options{Component: "macrobox", FilePath: logPath, Level: cfg.Log.Level, Stderr: verbose})
		log := logging.New("cli").With("command", cmd.CommandPath())

		kv, closeKV, err := openKV(cmd.Context(), cfg, sqldb)
		if err != nil {
			return err
		}
		defer closeKV()

		client := api.New(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.Timeout}, kv)
		return run(&cliEnv{db: sqldb, cfg: cfg, kv: kv, client: client, log: log})
	})
}

// loadConfig resolves configuration with the stored overrides plus extra,
// which lets config set reject a value before it is written.
func loadConfig(sqldb *sql.DB, extra map[string]string) (config.Config, error) {
	overrides, err := service.ListConfig(sqldb)
	if err != nil {
		return config.Config{}, err
	}
	for k, v := range extra {
		overrides[k] = v
	}
	path := configPath
	if path == "" {
		if path, err = app.DefaultConfigPath(); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path, overrides)
}

func openKV(ctx context.Context, cfg config.Config, sqldb *sql.DB) (storage.KV, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return storage.NewRedisKV(rdb, cfg.Redis.Namespace), func() { _ = rdb.Close() }, nil
	default:
		return storage.NewSQLiteKV(sqldb), func() {}, nil
	}
}

func (rt *cliEnv) widget(cmd *cobra.Command) payment.Widget {
	if rt.cfg.Payment.Widget == config.WidgetSandbox {
		return &payment.SandboxWidget{Secret: rt.cfg.Payment.SandboxSecret}
	}
	return &payment.TerminalWidget{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
}

func rupees(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

func rupeesFloat(v float64) string {
	return rupees(decimal.NewFromFloat(v))
}

// parseNow reads a --now override ("YYYY-MM-DD HH:MM" in local time).
func parseNow(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nowFunc(), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q (expected YYYY-MM-DD HH:MM)", value)
	}
	return t, nil
}

// describe renders backend and transport failures the way the storefront
// shows them. Local errors pass through unchanged.
func describe(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) || errors.Is(err, api.ErrUnreachable) {
		return errors.New(api.Describe(err))
	}
	return err
}
