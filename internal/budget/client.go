package budget

import "context"

// Account is one on-budget account as reported by the remote server
type Account struct {
	ID     string
	Name   string
	Closed bool
}

// Client is a session against one remote budgeting server. A client is
// single-use: Connect opens the session, Disconnect releases it, and the
// calls in between operate on the connected session's local working copy.
//
// All methods may return classified errors (see Classify); callers decide
// retry behavior from the classification, not from the concrete error type.
type Client interface {
	// Connect opens a session using the server's credentials and local
	// working directory.
	Connect(ctx context.Context, url, password, dataDir string) error

	// DownloadBudget fetches the remote budget file identified by syncID.
	// filePassword is the optional second-stage decryption credential;
	// nil means the budget file is not encrypted.
	DownloadBudget(ctx context.Context, syncID string, filePassword *string) error

	// ListAccounts enumerates the accounts of the downloaded budget.
	// An empty result is valid.
	ListAccounts(ctx context.Context) ([]Account, error)

	// SyncAccount runs the bank-sync for a single account.
	SyncAccount(ctx context.Context, accountID string) error

	// Reconcile pushes local sync results back to the server so the
	// remote and local state agree.
	Reconcile(ctx context.Context) error

	// Disconnect releases the session. Safe to call after a failed
	// Connect.
	Disconnect(ctx context.Context) error
}

// ClientFactory creates a fresh client for one sync run.
type ClientFactory func() Client
