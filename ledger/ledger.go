package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medscan"
)

const (
	// DefaultWelcomeTokens is provisioned for a user the first time availability is checked.
	DefaultWelcomeTokens = 30

	defaultMaxRetries = 5
)

var (
	ErrAccountNotFound = errors.New("token account not found")
	// ErrDatabase marks failures of the underlying store, as opposed to a lack of tokens.
	ErrDatabase = errors.New("token ledger unavailable")
	// ErrConflict is returned when concurrent writers kept winning the compare-and-swap.
	ErrConflict = errors.New("token balance changed concurrently")
)

type Reason string

const (
	ReasonSufficient    Reason = "SUFFICIENT"
	ReasonInsufficient  Reason = "INSUFFICIENT_TOKENS"
	ReasonDatabaseError Reason = "DATABASE_ERROR"
)

// Account is a user's persistent token balance.
type Account struct {
	UserID     string    `json:"user_id" dynamodbav:"user_id"`
	TokenCount int       `json:"token_count" dynamodbav:"token_count"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Store persists token accounts. SetBalance only writes when the stored balance equals expected.
type Store interface {
	GetBalance(ctx context.Context, userID string) (balance int, found bool, err error)
	CreateAccount(ctx context.Context, userID string, initialBalance int) (Account, error)
	SetBalance(ctx context.Context, userID string, expected, next int) (bool, error)
}

type Options struct {
	WelcomeTokens int
	MaxRetries    int
}

// Availability is the result of an availability check. Balance is the spendable balance:
// the stored balance minus tokens held by in-flight runs.
type Availability struct {
	Available bool
	Reason    Reason
	Balance   int
	Err       error
}

// Ledger gates pipeline runs on a per-user token balance.
type Ledger struct {
	store Store
	opts  Options

	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	mu   sync.Mutex
	refs int
	held int
}

func New(store Store, opts Options) *Ledger {
	if opts.WelcomeTokens <= 0 {
		opts.WelcomeTokens = DefaultWelcomeTokens
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Ledger{
		store: store,
		opts:  opts,
		users: make(map[string]*userState),
	}
}

// CheckAvailability reports whether userID has at least required tokens, provisioning the
// welcome balance for first-seen users. Store failures report ReasonDatabaseError.
func (l *Ledger) CheckAvailability(ctx context.Context, userID string, required int) Availability {
	if required <= 0 {
		required = 1
	}

	balance, err := l.balance(ctx, userID)
	if err != nil {
		return Availability{Reason: ReasonDatabaseError, Err: err}
	}

	u := l.acquire(userID)
	defer l.releaseUser(userID, u)
	u.mu.Lock()
	spendable := balance - u.held
	u.mu.Unlock()

	return availability(spendable, required)
}

// Decrement re-reads the balance and takes exactly one token with a compare-and-swap write,
// retrying when another writer got there first. It never takes the balance below zero.
func (l *Ledger) Decrement(ctx context.Context, userID string) (int, error) {
	for attempt := 1; attempt <= l.opts.MaxRetries; attempt++ {
		balance, found, err := l.store.GetBalance(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("%w: get balance: %w", ErrDatabase, err)
		}
		if !found {
			return 0, ErrAccountNotFound
		}
		if balance <= 0 {
			return 0, medscan.ErrInsufficientTokens
		}

		ok, err := l.store.SetBalance(ctx, userID, balance, balance-1)
		if err != nil {
			return 0, fmt.Errorf("%w: set balance: %w", ErrDatabase, err)
		}
		if ok {
			return balance - 1, nil
		}

		slog.Warn("LEDGER: Balance changed during decrement, retrying", "user_id", userID, "attempt", attempt)
	}
	return 0, ErrConflict
}

// Reserve checks availability for one token and holds it for the caller until the hold is
// committed or released. Concurrent reservations for the same user see each other's holds.
func (l *Ledger) Reserve(ctx context.Context, userID string) (*Hold, Availability) {
	u := l.acquire(userID)

	u.mu.Lock()
	balance, err := l.balance(ctx, userID)
	if err != nil {
		u.mu.Unlock()
		l.releaseUser(userID, u)
		return nil, Availability{Reason: ReasonDatabaseError, Err: err}
	}

	avail := availability(balance-u.held, 1)
	if !avail.Available {
		u.mu.Unlock()
		l.releaseUser(userID, u)
		return nil, avail
	}
	u.held++
	u.mu.Unlock()

	return &Hold{ledger: l, userID: userID, user: u}, avail
}

// balance returns the stored balance, creating the account with the welcome balance if missing.
func (l *Ledger) balance(ctx context.Context, userID string) (int, error) {
	balance, found, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		slog.Error("LEDGER: Failed to read balance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("%w: get balance: %w", ErrDatabase, err)
	}
	if found {
		return balance, nil
	}

	acct, err := l.store.CreateAccount(ctx, userID, l.opts.WelcomeTokens)
	if err != nil {
		slog.Error("LEDGER: Failed to provision account", "user_id", userID, "error", err)
		return 0, fmt.Errorf("%w: create account: %w", ErrDatabase, err)
	}
	slog.Info("LEDGER: Provisioned account", "user_id", userID, "token_count", acct.TokenCount)
	return acct.TokenCount, nil
}

func availability(spendable, required int) Availability {
	if spendable < 0 {
		spendable = 0
	}
	if spendable < required {
		return Availability{Reason: ReasonInsufficient, Balance: spendable}
	}
	return Availability{Available: true, Reason: ReasonSufficient, Balance: spendable}
}

func (l *Ledger) acquire(userID string) *userState {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[userID]
	if !ok {
		u = &userState{}
		l.users[userID] = u
	}
	u.refs++
	return u
}

func (l *Ledger) releaseUser(userID string, u *userState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u.refs--
	if u.refs == 0 {
		delete(l.users, userID)
	}
}

// Hold is one reserved token. Exactly one of Commit or Release takes effect; later calls are no-ops.
type Hold struct {
	ledger *Ledger
	userID string
	user   *userState
	once   sync.Once
}

// Commit debits the held token and returns the remaining balance.
func (h *Hold) Commit(ctx context.Context) (int, error) {
	remaining, err := 0, error(nil)
	done := false
	h.once.Do(func() {
		done = true
		// debit before dropping the hold so a concurrent Reserve never sees the token twice
		remaining, err = h.ledger.Decrement(ctx, h.userID)
		h.drop()
	})
	if !done {
		return 0, errors.New("hold already settled")
	}
	return remaining, err
}

// Release drops the hold without charging.
func (h *Hold) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.drop)
}

func (h *Hold) drop() {
	h.user.mu.Lock()
	h.user.held--
	h.user.mu.Unlock()
	h.ledger.releaseUser(h.userID, h.user)
}
