package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/aigpsim/internal/bank"
	"github.com/pavelanni/aigpsim/internal/handler"
	appI18n "github.com/pavelanni/aigpsim/internal/i18n"
	"github.com/pavelanni/aigpsim/internal/model"
	"github.com/pavelanni/aigpsim/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aigpsim",
		Short: "Timed multiple-choice exam simulator",
	}

	serve := serveCmd()
	root.AddCommand(serve, papersCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `aigpsim --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the exam simulator HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "aigpsim.db", "SQLite database path")
	f.StringP("banks", "b", "banks", "Directory with the paper manifest and paper files")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.Int("history-keep", 50, "Attempts kept per paper (0 = unlimited)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func papersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "papers",
		Short: "List the papers available in the question bank",
		RunE:  runPapers,
	}
	f := cmd.Flags()
	f.StringP("banks", "b", "banks", "Directory with the paper manifest and paper files")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attempt history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "aigpsim.db", "SQLite database path")
	f.StringP("banks", "b", "banks", "Bank directory recorded in the export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("AIGPSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("aigpsim")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/aigpsim")
	v.AddConfigPath("/etc/aigpsim")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	banksDir := v.GetString("banks")
	loader := bank.NewLoader(os.DirFS(banksDir))

	// Fail fast on an unreadable or invalid manifest.
	m, err := loader.Manifest()
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}
	slog.Info("question bank loaded", "dir", banksDir, "papers", len(m.Papers))

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg := model.SimConfig{
		BanksDir:    banksDir,
		Lang:        lang,
		HistoryKeep: v.GetInt("history-keep"),
	}

	h := handler.New(loader, db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"banks", banksDir,
		"db", v.GetString("db"),
		"lang", lang,
		"history_keep", cfg.HistoryKeep,
	)
	return http.ListenAndServe(addr, r)
}

func runPapers(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	loader := bank.NewLoader(os.DirFS(v.GetString("banks")))
	m, err := loader.Manifest()
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tQUESTIONS\tMINUTES")
	for _, p := range m.Papers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.ID, p.Title, p.Questions, p.Minutes)
	}
	return tw.Flush()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAllHistory()
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	export.BankDir = v.GetString("banks")

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
