package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"amocrm-contacts/internal/amocrm"
	"amocrm-contacts/internal/config"
	"amocrm-contacts/internal/contacts"
	"amocrm-contacts/internal/logging"
	"amocrm-contacts/internal/mcp"
	"amocrm-contacts/pkg/auth"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	authorizer *auth.Authorizer
	closers    []io.Closer
}

// loadApp reads the configuration and wires the logger, token store and authorizer.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.Setup(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		closers: []io.Closer{logCloser},
	}

	creds := auth.Credentials{
		ClientID:       cfg.Credentials.ClientID,
		ClientSecret:   cfg.Credentials.ClientSecret,
		RedirectURI:    cfg.Credentials.RedirectURI,
		Domain:         cfg.Credentials.Domain,
		Code:           cfg.Credentials.Code,
		LongLivedToken: cfg.Credentials.LongLivedToken,
	}

	// Secret Manager is only consulted when the secret is not set locally
	if creds.ClientSecret == "" && creds.LongLivedToken == "" && cfg.UsesSecretManager() {
		secret, err := auth.LoadSecret(ctx, cfg.Secrets.Project, cfg.Secrets.ClientSecretName, cfg.GCP.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		creds.ClientSecret = secret
	}

	store, err := a.tokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.authorizer = auth.NewAuthorizer(creds, a.baseURL(), store, logger)
	return a, nil
}

// tokenStore builds the configured token store.
func (a *app) tokenStore(ctx context.Context) (auth.TokenStore, error) {
	switch a.cfg.Token.Store {
	case config.StoreFirestore:
		store, err := auth.NewFirestoreTokenStore(ctx,
			a.cfg.Token.Project,
			a.cfg.Token.Collection,
			a.cfg.Credentials.Domain,
			a.cfg.GCP.CredentialsFile,
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return auth.NewFileTokenStore(a.cfg.Token.File), nil
	}
}

// baseURL returns the account URL, preferring the explicit override.
func (a *app) baseURL() string {
	if a.cfg.Credentials.BaseURL != "" {
		return amocrm.BaseURLForDomain(a.cfg.Credentials.BaseURL)
	}
	return amocrm.BaseURLForDomain(a.cfg.Credentials.Domain)
}

// manager authorizes and returns a contacts manager printing progress to out.
func (a *app) manager(ctx context.Context, out io.Writer) (*contacts.Manager, error) {
	httpClient, err := a.authorizer.Authorize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize: %w", err)
	}

	client := amocrm.NewClient(a.baseURL(), httpClient, a.logger)
	return contacts.NewManager(client.Contacts(), contacts.Options{
		PageSize:    a.cfg.Export.PageSize,
		MaxPages:    a.cfg.Export.MaxPages,
		ImportDelay: importDelay(a.cfg.Import.Delay),
		ErrorsFile:  a.cfg.Import.ErrorsFile,
		Out:         out,
		Logger:      a.logger,
	}), nil
}

// Close releases the log file and any store clients.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// importDelay maps a configured zero delay to no pause; the manager reads zero as its default.
func importDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// mcpConfig builds the MCP server settings from the loaded configuration.
func mcpConfig(cfg *config.Config, version string) *mcp.Config {
	return &mcp.Config{
		Addr:       cfg.MCPAddr(),
		APIKey:     cfg.MCP.APIKey,
		ExportFile: cfg.Export.File,
		Version:    version,
	}
}
