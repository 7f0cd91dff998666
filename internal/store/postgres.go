package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
)

// Schema creates the snapshot tables. Token amounts are NUMERIC(78, 0) so a
// full 256-bit word fits; perp figures are unconstrained NUMERIC.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	pair_key          TEXT PRIMARY KEY,
	token_a           TEXT NOT NULL,
	token_b           TEXT NOT NULL,
	real_reserve_a    NUMERIC(78, 0) NOT NULL,
	real_reserve_b    NUMERIC(78, 0) NOT NULL,
	virtual_reserve_a NUMERIC(78, 0) NOT NULL,
	virtual_reserve_b NUMERIC(78, 0) NOT NULL,
	fee_bps           BIGINT NOT NULL,
	oracle_price      NUMERIC(78, 0) NOT NULL,
	oracle_timestamp  TIMESTAMPTZ NOT NULL,
	paused            BOOLEAN NOT NULL DEFAULT FALSE,
	total_lp_supply   NUMERIC(78, 0) NOT NULL
);

CREATE TABLE IF NOT EXISTS vaults (
	owner      TEXT PRIMARY KEY,
	collateral NUMERIC(78, 0) NOT NULL,
	debt       NUMERIC(78, 0) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_minted (
	owner  TEXT NOT NULL REFERENCES vaults (owner) ON DELETE CASCADE,
	symbol TEXT NOT NULL,
	amount NUMERIC(78, 0) NOT NULL,
	PRIMARY KEY (owner, symbol)
);

CREATE TABLE IF NOT EXISTS perp_accounts (
	owner     TEXT PRIMARY KEY,
	available NUMERIC NOT NULL,
	total     NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS perp_positions (
	id          TEXT PRIMARY KEY,
	owner       TEXT NOT NULL REFERENCES perp_accounts (owner) ON DELETE CASCADE,
	market      TEXT NOT NULL,
	is_long     BOOLEAN NOT NULL,
	size        NUMERIC NOT NULL,
	collateral  NUMERIC NOT NULL,
	leverage    INTEGER NOT NULL,
	entry_price NUMERIC NOT NULL,
	opened_at   TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS perp_positions_owner_idx ON perp_positions (owner);
`

// PostgresStore implements Store on PostgreSQL. Values are written as
// decimal text and cast to NUMERIC, then read back with ::TEXT so no
// precision passes through a float.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// --- Pools ---

const poolColumns = `token_a, token_b,
	real_reserve_a::TEXT, real_reserve_b::TEXT,
	virtual_reserve_a::TEXT, virtual_reserve_b::TEXT,
	fee_bps, oracle_price::TEXT, oracle_timestamp, paused, total_lp_supply::TEXT`

func (s *PostgresStore) GetPool(ctx context.Context, key pair.Key) (model.Pool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE pair_key = $1`, key.String())
	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Pool{}, fmt.Errorf("%w: pool %s", ErrNotFound, key)
	}
	if err != nil {
		return model.Pool{}, fmt.Errorf("get pool %s: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY pair_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) PutPool(ctx context.Context, p model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (pair_key, token_a, token_b,
		        real_reserve_a, real_reserve_b, virtual_reserve_a, virtual_reserve_b,
		        fee_bps, oracle_price, oracle_timestamp, paused, total_lp_supply)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		        $8, $9::NUMERIC, $10, $11, $12::NUMERIC)
		 ON CONFLICT (pair_key) DO UPDATE SET
		        token_a = EXCLUDED.token_a, token_b = EXCLUDED.token_b,
		        real_reserve_a = EXCLUDED.real_reserve_a, real_reserve_b = EXCLUDED.real_reserve_b,
		        virtual_reserve_a = EXCLUDED.virtual_reserve_a, virtual_reserve_b = EXCLUDED.virtual_reserve_b,
		        fee_bps = EXCLUDED.fee_bps, oracle_price = EXCLUDED.oracle_price,
		        oracle_timestamp = EXCLUDED.oracle_timestamp, paused = EXCLUDED.paused,
		        total_lp_supply = EXCLUDED.total_lp_supply`,
		p.Key().String(), p.TokenA, p.TokenB,
		dec(p.RealReserveA), dec(p.RealReserveB), dec(p.VirtualReserveA), dec(p.VirtualReserveB),
		int64(p.FeeBps), dec(p.OraclePrice), p.OracleTimestamp, p.Paused, dec(p.TotalLPSupply),
	)
	if err != nil {
		return fmt.Errorf("put pool %s: %w", p.Key(), err)
	}
	return nil
}

// --- Vaults ---

func (s *PostgresStore) GetVault(ctx context.Context, owner string) (model.VaultPosition, error) {
	v := model.VaultPosition{Owner: owner, MintedBalances: make(map[string]*uint256.Int)}
	var collateral, debt string
	err := s.pool.QueryRow(ctx,
		`SELECT collateral::TEXT, debt::TEXT, updated_at FROM vaults WHERE owner = $1`, owner).
		Scan(&collateral, &debt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VaultPosition{}, fmt.Errorf("%w: vault %s", ErrNotFound, owner)
	}
	if err != nil {
		return model.VaultPosition{}, fmt.Errorf("get vault %s: %w", owner, err)
	}
	if v.CollateralAmount, err = parseWord(collateral); err != nil {
		return model.VaultPosition{}, err
	}
	if v.DebtAmount, err = parseWord(debt); err != nil {
		return model.VaultPosition{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, amount::TEXT FROM vault_minted WHERE owner = $1`, owner)
	if err != nil {
		return model.VaultPosition{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var symbol, amount string
		if err := rows.Scan(&symbol, &amount); err != nil {
			return model.VaultPosition{}, err
		}
		if v.MintedBalances[symbol], err = parseWord(amount); err != nil {
			return model.VaultPosition{}, err
		}
	}
	return v, rows.Err()
}

// PutVault replaces the vault row and its minted balances in one
// transaction.
func (s *PostgresStore) PutVault(ctx context.Context, v model.VaultPosition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO vaults (owner, collateral, debt, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (owner) DO UPDATE SET
		        collateral = EXCLUDED.collateral, debt = EXCLUDED.debt, updated_at = EXCLUDED.updated_at`,
		v.Owner, dec(v.CollateralAmount), dec(v.DebtAmount), v.UpdatedAt,
	); err != nil {
		return fmt.Errorf("put vault %s: %w", v.Owner, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM vault_minted WHERE owner = $1`, v.Owner); err != nil {
		return err
	}
	for symbol, amount := range v.MintedBalances {
		if _, err := tx.Exec(ctx,
			`INSERT INTO vault_minted (owner, symbol, amount) VALUES ($1, $2, $3::NUMERIC)`,
			v.Owner, symbol, dec(amount),
		); err != nil {
			return fmt.Errorf("put vault %s minted %s: %w", v.Owner, symbol, err)
		}
	}
	return tx.Commit(ctx)
}

// --- Perp accounts ---

func (s *PostgresStore) GetPerpAccount(ctx context.Context, owner string) (model.PerpAccount, error) {
	a := model.PerpAccount{Owner: owner}
	var available, total string
	err := s.pool.QueryRow(ctx,
		`SELECT available::TEXT, total::TEXT FROM perp_accounts WHERE owner = $1`, owner).
		Scan(&available, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PerpAccount{}, fmt.Errorf("%w: perp account %s", ErrNotFound, owner)
	}
	if err != nil {
		return model.PerpAccount{}, fmt.Errorf("get perp account %s: %w", owner, err)
	}
	if a.Balance.AvailableBase, err = decimal.NewFromString(available); err != nil {
		return model.PerpAccount{}, err
	}
	if a.Balance.TotalBase, err = decimal.NewFromString(total); err != nil {
		return model.PerpAccount{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, market, is_long, size::TEXT, collateral::TEXT, leverage,
		        entry_price::TEXT, opened_at, updated_at
		 FROM perp_positions WHERE owner = $1 ORDER BY opened_at, id`, owner)
	if err != nil {
		return model.PerpAccount{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PerpPosition
		var size, collateral, entry string
		if err := rows.Scan(&p.ID, &p.Market, &p.IsLong, &size, &collateral, &p.Leverage,
			&entry, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return model.PerpAccount{}, err
		}
		if p.SizeBase, err = decimal.NewFromString(size); err != nil {
			return model.PerpAccount{}, err
		}
		if p.CollateralBase, err = decimal.NewFromString(collateral); err != nil {
			return model.PerpAccount{}, err
		}
		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return model.PerpAccount{}, err
		}
		a.Positions = append(a.Positions, p)
	}
	return a, rows.Err()
}

// PutPerpAccount replaces the balance and position set in one transaction.
func (s *PostgresStore) PutPerpAccount(ctx context.Context, a model.PerpAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO perp_accounts (owner, available, total)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (owner) DO UPDATE SET available = EXCLUDED.available, total = EXCLUDED.total`,
		a.Owner, a.Balance.AvailableBase.String(), a.Balance.TotalBase.String(),
	); err != nil {
		return fmt.Errorf("put perp account %s: %w", a.Owner, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM perp_positions WHERE owner = $1`, a.Owner); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range a.Positions {
		batch.Queue(
			`INSERT INTO perp_positions (id, owner, market, is_long, size, collateral, leverage,
			        entry_price, opened_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10)`,
			p.ID, a.Owner, p.Market, p.IsLong, p.SizeBase.String(), p.CollateralBase.String(),
			p.Leverage, p.EntryPrice.String(), p.OpenedAt, p.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("put perp positions %s: %w", a.Owner, err)
	}
	return tx.Commit(ctx)
}

// --- Scanning helpers ---

func scanPool(row pgx.Row) (model.Pool, error) {
	var p model.Pool
	var rA, rB, vA, vB, oracle, lp string
	var fee int64
	var oracleAt time.Time
	if err := row.Scan(&p.TokenA, &p.TokenB, &rA, &rB, &vA, &vB,
		&fee, &oracle, &oracleAt, &p.Paused, &lp); err != nil {
		return model.Pool{}, err
	}
	p.FeeBps = uint64(fee)
	p.OracleTimestamp = oracleAt

	var err error
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&p.RealReserveA, rA}, {&p.RealReserveB, rB},
		{&p.VirtualReserveA, vA}, {&p.VirtualReserveB, vB},
		{&p.OraclePrice, oracle}, {&p.TotalLPSupply, lp},
	} {
		if *f.dst, err = parseWord(f.src); err != nil {
			return model.Pool{}, fmt.Errorf("pool %s-%s: %w", p.TokenA, p.TokenB, err)
		}
	}
	return p, nil
}

func parseWord(s string) (*uint256.Int, error) {
	x, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return x, nil
}

// dec renders a word as decimal text; nil is zero.
func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
