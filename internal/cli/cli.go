// Package cli provides the command-line interface for amocrm-contacts.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"amocrm-contacts/internal/amocrm"
	"amocrm-contacts/internal/contacts"
	"amocrm-contacts/internal/mcp"
	"amocrm-contacts/pkg/auth"
)

// Version information
const Version = "0.1.0"

// RootCmd is the root command for the CLI.
var RootCmd = &cobra.Command{
	Use:   "amocrm-contacts",
	Short: "amoCRM contacts sync - export and bulk-rename amoCRM contacts",
	Long: `Export amoCRM contacts to CSV, update contact names from CSV,
and inspect single contacts using the amoCRM API v4.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Global flags
var configFile string

// Export command flags
var exportOutput string

// Import command flags
var importErrors string

// Login command flags
var loginListen string

// MCP command flags
var (
	mcpHost  string
	mcpPort  int
	mcpStdio bool
)

// Command definitions
var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amocrm-contacts version %s\n", Version)
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export all contacts to CSV",
		Long: `Export every contact to a semicolon separated CSV file.

Columns: contact_id;name;last_name;first_name

Contacts are requested page by page (up to 250 per page) and each page is
appended to the file as soon as it arrives. The file is overwritten.`,
		Example: `  # Export to the configured file (contacts.csv by default)
  amocrm-contacts export

  # Export to a specific file
  amocrm-contacts export -o /tmp/all-contacts.csv`,
		Args: cobra.NoArgs,
		RunE: runExport,
	}

	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Update contact names from CSV",
		Long: `Update contact names from a semicolon separated CSV file.

The first line is a header. Each following line needs at least two fields:
contact_id;name. Extra fields are ignored, so an export file can be edited
and imported back directly.

First and last names are kept unchanged. Rows that fail are written to the
errors file (errors.csv by default) so they can be retried.`,
		Example: `  # Rename contacts listed in contacts.csv
  amocrm-contacts import contacts.csv

  # Write failures to a specific file
  amocrm-contacts import contacts.csv --errors failed.csv`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	getCmd = &cobra.Command{
		Use:     "get <contact-id>",
		Short:   "Show a single contact as JSON",
		Example: `  amocrm-contacts get 123456`,
		Args:    cobra.ExactArgs(1),
		RunE:    runGet,
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Authorize through the browser and save the token",
		Long: `Open the amoCRM consent page, capture the authorization code on the
local redirect URI and exchange it for a token pair.

The redirect URI configured for the integration must point to the --listen
address, e.g. http://localhost:8080/callback.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server",
		Long: `Serve the contact tools over the Model Context Protocol.

Tools: ping, contacts_get, contacts_export, contacts_import

By default the streamable HTTP transport is used; set mcp.api_key to
require "Authorization: Bearer <key>". Use --stdio for local clients.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
)

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	manager, err := a.manager(ctx, out)
	if err != nil {
		return err
	}

	path := a.cfg.Export.File
	if exportOutput != "" {
		path = exportOutput
	}

	result, err := manager.Export(ctx, path)
	if err != nil {
		return err
	}

	displayExportSummary(out, result)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	// A missing file must not cost a token exchange
	if err := contacts.CheckImportFile(args[0]); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	manager, err := a.manager(ctx, out)
	if err != nil {
		return err
	}

	result, err := manager.WithErrorsFile(importErrors).Import(ctx, args[0])
	if err != nil {
		return err
	}

	displayImportSummary(out, result)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	// Reject bad ids before touching credentials
	if _, err := contacts.ParseContactID(args[0]); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	manager, err := a.manager(ctx, io.Discard)
	if err != nil {
		return err
	}

	view, err := manager.GetContactByID(ctx, args[0])
	if errors.Is(err, amocrm.ErrNoContent) {
		return fmt.Errorf("contact %s not found", args[0])
	}
	if err != nil {
		return err
	}

	return contacts.WriteJSON(cmd.OutOrStdout(), view)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	flow := &auth.LoginFlow{
		Authorizer: a.authorizer,
		ListenAddr: loginListen,
		Out:        out,
	}

	if _, err := flow.Run(ctx); err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintln(out, green("Authorization successful, token saved."))
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	manager, err := a.manager(ctx, nil)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("host") {
		a.cfg.MCP.Host = mcpHost
	}
	if cmd.Flags().Changed("port") {
		a.cfg.MCP.Port = mcpPort
	}
	cfg := mcpConfig(a.cfg, Version)

	server := mcp.NewServer(cfg, manager, a.logger)
	if mcpStdio {
		return server.RunStdio(ctx)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on %s\n", cfg.Addr)
	return server.Run(ctx)
}

// displayExportSummary prints the export totals.
func displayExportSummary(w io.Writer, result *contacts.ExportResult) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Fprintln(w)
	fmt.Fprintln(w, green("Export completed"))
	fmt.Fprintf(w, "  %s: %s\n", cyan("File"), result.Path)
	fmt.Fprintf(w, "  %s: %d\n", cyan("Pages"), result.Pages)
	fmt.Fprintf(w, "  %s: %d\n", cyan("Contacts"), result.Contacts)
}

// displayImportSummary prints the import totals and the failed rows.
func displayImportSummary(w io.Writer, result *contacts.ImportResult) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintln(w)
	if len(result.Failed) == 0 {
		fmt.Fprintln(w, green("Import completed"))
	} else {
		fmt.Fprintln(w, yellow("Import completed with errors"))
	}
	fmt.Fprintf(w, "  %s: %d\n", cyan("Rows"), result.Total)
	fmt.Fprintf(w, "  %s: %d\n", cyan("Updated"), result.Updated)
	fmt.Fprintf(w, "  %s: %d\n", cyan("Skipped"), result.Skipped)
	fmt.Fprintf(w, "  %s: %d\n", cyan("Failed"), len(result.Failed))

	if len(result.Failed) > 0 {
		fmt.Fprintf(w, "  %s: %s\n", cyan("Errors file"), result.ErrorsFile)
		for _, f := range result.Failed {
			fmt.Fprintf(w, "    • #%d %s: %s\n", f.ID, truncate(f.Name, 40), f.Error)
		}
	}
}

// truncate shortens a string to the specified number of runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Init initializes the CLI commands and flags.
func Init() {
	// Add version flag to root command
	RootCmd.Version = Version
	RootCmd.SetVersionTemplate("amocrm-contacts version {{.Version}}\n")

	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/amocrm-contacts/config.yaml or ./config.yaml)")

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Destination CSV file (default from config, contacts.csv)")

	importCmd.Flags().StringVar(&importErrors, "errors", "", "File receiving rows that failed (default from config, errors.csv)")

	loginCmd.Flags().StringVar(&loginListen, "listen", "localhost:8080", "Local address serving the redirect URI")

	mcpCmd.Flags().StringVar(&mcpHost, "host", "localhost", "Host to bind")
	mcpCmd.Flags().IntVar(&mcpPort, "port", 8080, "Port to listen on")
	mcpCmd.Flags().BoolVar(&mcpStdio, "stdio", false, "Serve over stdin/stdout instead of HTTP")

	// Register commands
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(importCmd)
	RootCmd.AddCommand(getCmd)
	RootCmd.AddCommand(loginCmd)
	RootCmd.AddCommand(mcpCmd)
}
