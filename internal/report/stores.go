package report

import (
	"context"
	"time"

	"github.com/NewMai/QABot/internal/backend"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ribasushi/go-toolbox/cmn"
	"golang.org/x/xerrors"
)

// OutcomeSaver is satisfied by *backend.Client
type OutcomeSaver interface {
	SaveStoreDeal(ctx context.Context, provider filaddr.Address, success bool, msg string) error
	SaveRetrieveDeal(ctx context.Context, provider filaddr.Address, success bool, msg string) error
}

var _ OutcomeSaver = (*backend.Client)(nil)

// BackendStore forwards outcomes to the reputation backend
type BackendStore struct {
	Backend OutcomeSaver
}

func (BackendStore) Name() string { return "backend" }

func (s BackendStore) Save(ctx context.Context, o Outcome) error {
	switch o.Kind {
	case KindStorage:
		return s.Backend.SaveStoreDeal(ctx, o.Provider, o.Success, o.Message)
	case KindRetrieval:
		return s.Backend.SaveRetrieveDeal(ctx, o.Provider, o.Success, o.Message)
	default:
		return xerrors.Errorf("unknown outcome kind '%s'", o.Kind)
	}
}

// PGStore keeps every outcome in Postgres, which also backs the per-provider
// history served by the status API
type PGStore struct {
	DB *pgxpool.Pool
}

func (PGStore) Name() string { return "postgres" }

func (s PGStore) EnsureSchema(ctx context.Context) error {
	return s.DB.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, q := range []string{
			`CREATE SCHEMA IF NOT EXISTS qabot`,
			`
			CREATE TABLE IF NOT EXISTS qabot.outcomes (
				outcome_id BIGSERIAL NOT NULL PRIMARY KEY,
				kind TEXT NOT NULL,
				provider TEXT NOT NULL,
				success BOOL NOT NULL,
				message TEXT NOT NULL,
				entry_created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)
			`,
			`CREATE INDEX IF NOT EXISTS outcomes_provider_idx ON qabot.outcomes ( provider, entry_created )`,
		} {
			if _, err := tx.Exec(ctx, q); err != nil {
				return cmn.WrErr(err)
			}
		}
		return nil
	})
}

func (s PGStore) Save(ctx context.Context, o Outcome) error {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.DB.Exec(
		ctx,
		`INSERT INTO qabot.outcomes ( kind, provider, success, message, entry_created ) VALUES ( $1, $2, $3, $4, $5 )`,
		string(o.Kind),
		o.Provider.String(),
		o.Success,
		o.Message,
		at,
	)
	return cmn.WrErr(err)
}

type StoredOutcome struct {
	OutcomeID    int64     `db:"outcome_id"`
	Kind         string    `db:"kind"`
	Provider     string    `db:"provider"`
	Success      bool      `db:"success"`
	Message      string    `db:"message"`
	EntryCreated time.Time `db:"entry_created"`
}

// ListByProvider returns the newest outcomes recorded for a provider
func (s PGStore) ListByProvider(ctx context.Context, provider filaddr.Address, limit int) ([]StoredOutcome, error) {
	out := make([]StoredOutcome, 0, limit)
	if err := pgxscan.Select(
		ctx,
		s.DB,
		&out,
		`
		SELECT outcome_id, kind, provider, success, message, entry_created
			FROM qabot.outcomes
		WHERE provider = $1
		ORDER BY entry_created DESC, outcome_id DESC
		LIMIT $2
		`,
		provider.String(),
		limit,
	); err != nil {
		return nil, cmn.WrErr(err)
	}
	return out, nil
}
