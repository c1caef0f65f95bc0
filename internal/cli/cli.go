// Package cli holds the smartnotes command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"smartnotes/internal/app"
	"smartnotes/internal/config"
	"smartnotes/internal/indexing"
	"smartnotes/internal/keywords"
	"smartnotes/internal/rbac"
	"smartnotes/internal/search"
	"smartnotes/internal/store"
)

var (
	seedPath   string
	loadConfig = config.Load
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "smartnotes",
		Short:         "Keyword indexing and search for study group resources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&seedPath, "seed", "", "JSON fixture to load into the memory store")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background indexing worker",
		Args:  cobra.NoArgs,
		RunE:  serveHandler,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE:  migrateHandler,
	}
	migrateCmd.Flags().Int("down", 0, "roll back this many applied migrations")
	migrateCmd.Flags().Bool("status", false, "list migrations and whether they are applied")

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <resource-id>",
		Short: "Queue a resource for keyword generation",
		Args:  cobra.ExactArgs(1),
		RunE:  enqueueHandler(false),
	}
	enqueueCmd.Flags().Bool("detach", false, "return without waiting for the worker")

	reindexCmd := &cobra.Command{
		Use:   "reindex <resource-id>",
		Short: "Discard a resource's keywords and index entries and queue it again",
		Args:  cobra.ExactArgs(1),
		RunE:  enqueueHandler(true),
	}
	reindexCmd.Flags().Bool("detach", false, "return without waiting for the worker")

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Process the index queue until it is empty",
		Args:  cobra.NoArgs,
		RunE:  drainHandler,
	}

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List index queue entries",
		Args:  cobra.NoArgs,
		RunE:  queueHandler,
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a folder or a group",
		Args:  cobra.MinimumNArgs(1),
		RunE:  searchHandler,
	}
	searchCmd.Flags().Int64("folder", 0, "folder to search")
	searchCmd.Flags().Int64("group", 0, "group to search")
	searchCmd.Flags().Int64("viewer", rbac.SystemViewer, "user id to search as")

	rootCmd.AddCommand(serveCmd, migrateCmd, enqueueCmd, reindexCmd, drainCmd, queueCmd, searchCmd)
	return rootCmd
}

func serveHandler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	rt, err := newRuntime(ctx, cfg, seedPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	var readiness interface{ Ping(context.Context) error }
	if rt.redis != nil {
		readiness = rt.redis
	}
	service := app.New(rt.store, rt.pipeline, rt.search, readiness)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).TrustSystemViewer(cfg.TrustSystemViewer).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	worker := rt.pipeline.Worker()
	go worker.Run(ctx, cfg.WorkerPoll)

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("smartnotes API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stop()
	worker.Wait()
	return nil
}

func migrateHandler(cmd *cobra.Command, args []string) error {
	down, err := cmd.Flags().GetInt("down")
	if err != nil {
		return err
	}
	status, err := cmd.Flags().GetBool("status")
	if err != nil {
		return err
	}

	cfg := loadConfig()
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate needs the postgres store, got %q", cfg.Store)
	}
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	out := cmd.OutOrStdout()

	switch {
	case status:
		states, err := store.MigrationStatus(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		var data [][]string
		for _, state := range states {
			applied := "pending"
			if state.Applied {
				applied = state.AppliedAt.Format(time.RFC3339)
			}
			data = append(data, []string{state.Version, applied})
		}
		renderTable(out, []string{"Version", "Applied"}, data)
	case down > 0:
		reverted, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, down)
		for _, version := range reverted {
			fmt.Fprintf(out, "rolled back %s\n", version)
		}
		if err != nil {
			return err
		}
	default:
		if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
			return err
		}
		fmt.Fprintf(out, "migrations from %s applied\n", cfg.MigrationsDir)
	}
	return nil
}

func enqueueHandler(reindex bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resourceID, err := parseID(args[0])
		if err != nil {
			return err
		}
		detach, err := cmd.Flags().GetBool("detach")
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd.Context(), loadConfig(), seedPath)
		if err != nil {
			return err
		}
		defer rt.Close()

		var status indexing.Status
		if reindex {
			status, err = rt.pipeline.Reindex(cmd.Context(), resourceID)
		} else {
			status, err = rt.pipeline.RequestIndexing(cmd.Context(), resourceID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resource %d: %s\n", resourceID, status)
		if status == indexing.StatusQueued && !detach {
			rt.pipeline.Worker().Wait()
			return printKeywords(cmd, rt, resourceID)
		}
		return nil
	}
}

func printKeywords(cmd *cobra.Command, rt *runtime, resourceID int64) error {
	status, err := rt.pipeline.Keywords(cmd.Context(), resourceID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case status.Failed:
		fmt.Fprintf(out, "indexing failed: %s\n", status.LastError)
	case status.Pending:
		fmt.Fprintln(out, "still queued")
	case keywords.IsPlaceholder(status.Keywords):
		fmt.Fprintf(out, "no keywords: %s\n", status.Keywords[0])
	default:
		fmt.Fprintf(out, "keywords: %s\n", strings.Join(status.Keywords, ", "))
	}
	return nil
}

func drainHandler(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), loadConfig(), seedPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	processed, err := rt.pipeline.Worker().Drain(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d queue entries\n", processed)
	return nil
}

func queueHandler(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), loadConfig(), seedPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.store.ListQueueEntries(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "The index queue is empty.")
		return nil
	}

	headers := []string{"Entry", "Resource", "Enqueued", "State", "Last Error"}
	var data [][]string
	for _, entry := range entries {
		state := "pending"
		if entry.Failed() {
			state = "failed"
		}
		data = append(data, []string{
			strconv.FormatInt(entry.ID, 10),
			strconv.FormatInt(entry.ResourceID, 10),
			entry.EnqueuedAt.Format(time.RFC3339),
			state,
			entry.LastError,
		})
	}
	renderTable(cmd.OutOrStdout(), headers, data)
	return nil
}

func searchHandler(cmd *cobra.Command, args []string) error {
	folderID, err := cmd.Flags().GetInt64("folder")
	if err != nil {
		return err
	}
	groupID, err := cmd.Flags().GetInt64("group")
	if err != nil {
		return err
	}
	viewerID, err := cmd.Flags().GetInt64("viewer")
	if err != nil {
		return err
	}
	if (folderID == 0) == (groupID == 0) {
		return errors.New("exactly one of --folder or --group is required")
	}

	rt, err := newRuntime(cmd.Context(), loadConfig(), seedPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	query := strings.Join(args, " ")
	var response search.Response
	if folderID != 0 {
		response, err = rt.search.SearchFolder(cmd.Context(), viewerID, folderID, query)
	} else {
		response, err = rt.search.SearchGroup(cmd.Context(), viewerID, groupID, query)
	}
	if err != nil {
		return err
	}
	writeResults(cmd.OutOrStdout(), response)
	return nil
}

func writeResults(out io.Writer, response search.Response) {
	if !response.Found {
		fmt.Fprintln(out, response.Message)
		return
	}
	headers := []string{"ID", "Folder", "Title", "Type", "Score", "Rating", "Keywords"}
	var data [][]string
	for _, result := range response.Results {
		data = append(data, []string{
			strconv.FormatInt(result.ID, 10),
			strconv.FormatInt(result.FolderID, 10),
			result.Title,
			result.Type,
			strconv.Itoa(result.Score),
			result.Rating,
			strings.Join(result.Keywords, ", "),
		})
	}
	renderTable(out, headers, data)
}

func renderTable(out io.Writer, headers []string, data [][]string) {
	table := tablewriter.NewWriter(out)
	table.Header(headers)
	table.Bulk(data)
	table.Render()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid resource id %q", raw)
	}
	return id, nil
}
