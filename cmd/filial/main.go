package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/filial/internal/api"
	"github.com/erazemk/filial/internal/barcode"
	"github.com/erazemk/filial/internal/catalog"
	"github.com/erazemk/filial/internal/config"
	"github.com/erazemk/filial/internal/db"
	"github.com/erazemk/filial/internal/metrics"
	"github.com/erazemk/filial/internal/storage"
	"github.com/erazemk/filial/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

const usage = `Usage: filial [command] [flags]

Commands:
  serve                   run the server (default)
  init                    create the database and print branch passwords
  import-products <csv>   replace the product catalog (barcode,internal_code,name)

Flags:
  -c, --config <path>     YAML config file
      --env <path>        env file with FILIAL_* variables (default: .env)
  -d, --db <path>         SQLite database path (default: filial.sqlite3)
  -a, --addr <host:port>  listen address (default: :8080)
  -l, --log <path>        log file path (default: no file, stdout/stderr only)
  -h, --help              show this help and exit
`

func main() {
	fs := pflag.NewFlagSet("filial", pflag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	fs.Usage = func() { fmt.Fprint(os.Stdout, usage) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cmd, args := "serve", fs.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := flags.Load(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging: INFO/WARN → stdout, ERROR → stderr.
	// Optionally also write to a log file.
	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	switch cmd {
	case "serve":
		err = serve(cfg)
	case "init":
		err = initCommand(cfg)
	case "import-products":
		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "import-products needs exactly one CSV file")
			fs.Usage()
			os.Exit(1)
		}
		err = importProducts(cfg, args[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		fs.Usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// openDatabase opens the database and ensures the schema exists.
func openDatabase(path string) (*sql.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return database, nil
}

func initCommand(cfg *config.Config) error {
	_, statErr := os.Stat(cfg.DB)
	created := os.IsNotExist(statErr)

	database, err := openDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	creds, err := seedBranches(context.Background(), database, cfg.Branches)
	if err != nil {
		return err
	}
	printInitResult(cfg.DB, created, creds)
	return nil
}

func importProducts(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	products, err := catalog.ParseCSV(f)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	n, err := store.ReplaceProducts(ctx, database, products)
	if err != nil {
		return err
	}
	if err := store.SetSetting(ctx, database, store.SettingCatalogImportedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	slog.Info("catalog imported", "file", path, "products", n)
	return nil
}

func serve(cfg *config.Config) error {
	// Check if DB exists, auto-init if not.
	_, statErr := os.Stat(cfg.DB)
	created := os.IsNotExist(statErr)

	database, err := openDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Branches added to the config since the last start get a password too.
	creds, err := seedBranches(ctx, database, cfg.Branches)
	if err != nil {
		return err
	}
	if len(creds) > 0 {
		printInitResult(cfg.DB, created, creds)
		fmt.Println()
	}

	slog.Info("database ready", "path", cfg.DB, "branches", len(cfg.Branches))

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	var source catalog.Source = &catalog.Local{DB: database}
	if cfg.Catalog.Source == config.CatalogRemote {
		source = catalog.NewRemote(cfg.Catalog.RemoteURL, cfg.Catalog.Timeout)
	}

	decoder, err := barcode.NewDecoder()
	if err != nil {
		return fmt.Errorf("setting up barcode decoder: %w", err)
	}

	router := api.NewRouter(api.Options{
		DB:              database,
		JWTSecret:       jwtSecret,
		Branches:        cfg.Branches,
		Storage:         &storage.DB{DB: database, BaseURL: cfg.PublicURL},
		Catalog:         source,
		CatalogName:     cfg.Catalog.Source,
		Decoder:         decoder,
		MaxImageBytes:   cfg.Uploads.MaxImageBytes,
		MaxInvoiceBytes: cfg.Uploads.MaxInvoiceBytes,
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go purgeRevokedTokens(ctx, database, time.Hour)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "catalog", cfg.Catalog.Source)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// purgeRevokedTokens drops expired revocations every interval until ctx ends.
func purgeRevokedTokens(ctx context.Context, database *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeRevokedTokens(ctx, database, now)
			if err != nil {
				slog.Error("purging revoked tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged revoked tokens", "count", n)
			}
		}
	}
}

// credential is a freshly created branch login.
type credential struct {
	Branch   string
	Password string
}

// seedBranches creates every configured branch missing from the database
// with a random password. Existing branches are left alone.
func seedBranches(ctx context.Context, database *sql.DB, ids []string) ([]credential, error) {
	existing, err := store.ListBranches(ctx, database)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, b := range existing {
		have[b.ID] = true
	}

	var creds []credential
	for _, id := range ids {
		if have[id] {
			continue
		}

		password, err := generatePassword(16)
		if err != nil {
			return nil, fmt.Errorf("generating password: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		if _, err := store.CreateBranch(ctx, database, id, string(hash)); err != nil {
			return nil, fmt.Errorf("creating branch %s: %w", id, err)
		}
		slog.Info("branch created", "branch", id)
		creds = append(creds, credential{Branch: id, Password: password})
	}
	return creds, nil
}

// printInitResult prints the created branch logins to stdout.
func printInitResult(dbPath string, created bool, creds []credential) {
	if created {
		fmt.Printf("Database created: %s\n", dbPath)
		fmt.Println("Schema initialized.")
		fmt.Println()
	}
	if len(creds) == 0 {
		fmt.Println("All configured branches already exist.")
		return
	}

	fmt.Println("Branch accounts created:")
	for _, c := range creds {
		fmt.Printf("  %-12s %s\n", c.Branch, c.Password)
	}
	fmt.Println()
	fmt.Println("Save these passwords. They cannot be recovered.")
	fmt.Println("Each branch can change its password after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
