package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainbank/osce/internal/assistant"
	"github.com/brainbank/osce/internal/attempts"
	"github.com/brainbank/osce/internal/blob"
	"github.com/brainbank/osce/internal/cache"
	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/entitlement"
	"github.com/brainbank/osce/internal/handler"
	appI18n "github.com/brainbank/osce/internal/i18n"
	"github.com/brainbank/osce/internal/model"
	"github.com/brainbank/osce/internal/page"
	"github.com/brainbank/osce/internal/secrets"
	"github.com/brainbank/osce/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "brainbank",
		Short: "OSCE case bank and progress engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), useraddCmd(), grantCmd(), revokeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `brainbank --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "brainbank.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default UI language (en, es)")
	f.String("plans", "", "Plan table YAML file (built-in table when empty)")
	f.String("timezone", "UTC", "Time zone for calendar dates and streaks")
	f.StringSlice("cases", nil, "Case files (JSON or YAML) to import at startup")
	f.String("cache", "memory", "Case cache backend (memory, redis)")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("redis-password", "", "Redis password")
	f.String("blob", "dir", "Chat history storage (dir, gcs)")
	f.String("blob-dir", "chat-data", "Directory for chat histories")
	f.String("blob-base-url", "/files", "Public URL prefix of stored chat histories")
	f.String("gcs-bucket", "", "GCS bucket for chat histories")
	f.String("openai-key", "", "OpenAI API key")
	f.String("openai-url", "", "OpenAI-compatible API base URL or Azure endpoint")
	f.Bool("openai-azure", false, "Treat openai-url as an Azure OpenAI endpoint")
	f.String("assistant-id", "", "Performance coach assistant id")
	f.String("speech-key", "", "Speech service key")
	f.String("speech-region", "", "Speech service region")
	f.StringSlice("allowed-origins", nil, "Origins allowed to call the API and open sockets (all when empty)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set BRAINBANK_ADMIN_PASSWORD)")
	f.Duration("plan-retry-base", time.Second, "Initial delay between plan lookup retries")
	f.Duration("session-sweep", time.Hour, "Interval between expired login session cleanups")
	addCommonFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import case files into the case bank",
		RunE:  runImport,
	}
	cmd.Flags().StringSliceP("file", "f", nil, "Case files to import (repeatable)")
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attempt records and users as JSON",
		RunE:  runExport,
	}
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(cmd)
	return cmd
}

func useraddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create a user account",
		RunE:  runUseradd,
	}
	f := cmd.Flags()
	f.String("email", "", "Login email (required)")
	f.String("password", "", "Password (required)")
	f.String("name", "", "Display name")
	f.String("role", string(model.UserRoleMember), "Role (member, editor, admin)")
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Give a user an active plan order",
		RunE:  runGrant,
	}
	f := cmd.Flags()
	f.String("email", "", "User email (required)")
	f.String("plan", "", "Plan name (required)")
	f.String("plans", "", "Plan table YAML file (built-in table when empty)")
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func revokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "End a user's active orders of a plan",
		RunE:  runRevoke,
	}
	f := cmd.Flags()
	f.String("email", "", "User email (required)")
	f.String("plan", "", "Plan name (required)")
	f.String("status", string(model.OrderEnded), "New order status (ENDED, CANCELED)")
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("BRAINBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("brainbank")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/brainbank")
	v.AddConfigPath("/etc/brainbank")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func loadPlans(path string) (*entitlement.Table, error) {
	if path == "" {
		return entitlement.DefaultTable(), nil
	}
	return entitlement.LoadTable(path)
}

func secretsFrom(v *viper.Viper) secrets.Config {
	return secrets.Config{
		OpenAIKey:    v.GetString("openai-key"),
		OpenAIURL:    v.GetString("openai-url"),
		OpenAIAzure:  v.GetBool("openai-azure"),
		AssistantID:  v.GetString("assistant-id"),
		SpeechKey:    v.GetString("speech-key"),
		SpeechRegion: v.GetString("speech-region"),
	}
}

func newCache(ctx context.Context, v *viper.Viper) (cache.Cache, func(), error) {
	switch v.GetString("cache") {
	case "redis":
		c, err := cache.NewRedis(ctx, v.GetString("redis-addr"), v.GetString("redis-password"))
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	case "", "memory":
		return cache.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", v.GetString("cache"))
}

func newBlobStore(ctx context.Context, v *viper.Viper) (blob.Store, func(), error) {
	switch v.GetString("blob") {
	case "gcs":
		g, err := blob.NewGCSStore(ctx, v.GetString("gcs-bucket"), v.GetString("blob-base-url"))
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	case "", "dir":
		d, err := blob.NewDirStore(v.GetString("blob-dir"), v.GetString("blob-base-url"))
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown blob backend %q", v.GetString("blob"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	for _, path := range v.GetStringSlice("cases") {
		if _, err := casebank.Import(ctx, db, path); err != nil {
			return fmt.Errorf("import cases: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	table, err := loadPlans(v.GetString("plans"))
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}

	c, closeCache, err := newCache(ctx, v)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	defer closeCache()

	blobs, closeBlobs, err := newBlobStore(ctx, v)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	defer closeBlobs()

	sec := secretsFrom(v)
	if !sec.ChatAvailable() {
		slog.Warn("assistant not configured, AI chat disabled")
	}
	if !sec.HasValidKeys() {
		slog.Warn("speech or chat key missing, simulator disabled")
	}

	policy := entitlement.DefaultRetryPolicy
	policy.BaseDelay = v.GetDuration("plan-retry-base")

	deps := &page.Deps{
		Cases:    casebank.New(db, c),
		Records:  db,
		Attempts: attempts.New(db),
		Plans:    entitlement.NewPlanResolver(db, table, policy),
		Blobs:    blobs,
		Secrets:  sec,
		Location: loc,
	}
	// A nil *assistant.Client must not become a non-nil interface.
	if a := assistant.New(sec); a != nil {
		deps.Assistant = a
	}

	h := handler.New(db, deps, handler.Config{
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		SecureCookies:  v.GetBool("secure-cookies"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	if every := v.GetDuration("session-sweep"); every > 0 {
		go sweepSessions(ctx, db, every)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"timezone", loc.String(),
		"cache", v.GetString("cache"),
		"blob", v.GetString("blob"),
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	for _, path := range v.GetStringSlice("file") {
		res, err := casebank.Import(ctx, db, path)
		if err != nil {
			return fmt.Errorf("import cases: %w", err)
		}
		if res.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: unchanged\n", path)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cases\n", path, res.Count)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAll(context.Background())
	if err != nil {
		return fmt.Errorf("export records: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runUseradd(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	role := model.UserRole(v.GetString("role"))
	switch role {
	case model.UserRoleMember, model.UserRoleEditor, model.UserRoleAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(v.GetString("password")), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	email := v.GetString("email")
	name := v.GetString("name")
	if name == "" {
		name = email
	}
	_, err = db.CreateUser(context.Background(), model.User{
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func runGrant(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	table, err := loadPlans(v.GetString("plans"))
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	plan := v.GetString("plan")
	if !table.Known(plan) {
		return fmt.Errorf("unknown plan %q", plan)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	email := v.GetString("email")
	user, err := db.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	if _, err := db.CreateOrder(ctx, user.ID, plan, model.OrderActive); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	slog.Info("granted plan", "email", user.Email, "plan", plan)
	return nil
}

func runRevoke(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	status := model.OrderStatus(strings.ToUpper(v.GetString("status")))
	if !status.Valid() || status == model.OrderActive {
		return fmt.Errorf("status must be %s or %s", model.OrderEnded, model.OrderCancelled)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	email := v.GetString("email")
	user, err := db.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	n, err := revokePlan(ctx, db, user.ID, v.GetString("plan"), status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d orders %s\n", user.Email, n, status)
	return nil
}

// revokePlan moves every active order of plan to status and returns how
// many it changed.
func revokePlan(ctx context.Context, db *store.Store, userID int64, plan string, status model.OrderStatus) (int, error) {
	orders, err := db.ListOrders(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}
	n := 0
	for _, o := range orders {
		if o.PlanName != plan || o.Status != model.OrderActive {
			continue
		}
		if err := db.UpdateOrderStatus(ctx, o.ID, status); err != nil {
			return n, fmt.Errorf("update order %d: %w", o.ID, err)
		}
		n++
	}
	return n, nil
}

// sweepSessions deletes expired login sessions now and then every interval
// until ctx is done.
func sweepSessions(ctx context.Context, db *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := db.CleanupExpiredSessions(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("failed to clean up expired sessions", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or BRAINBANK_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Email:        "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", "admin")
	return nil
}
