package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"chaindir/internal/directory/models"
	"chaindir/pkg/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation = "23505"

	constraintOwner    = "linked_addresses_owner"
	constraintIdentity = "identities_pkey"
)

// Postgres persists the directory in PostgreSQL. Semantics mirror InMemory;
// every mutation runs in one transaction so failures leave no partial write.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

// EnsureSchema creates the directory tables if absent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure directory schema: %w", err)
	}
	return nil
}

func (s *Postgres) CreateIdentity(ctx context.Context, ident *models.Identity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO identities (id, kind, creator, home_domain, created_at, last_updated) VALUES ($1, $2, $3, $4, $5, $6)`,
			ident.ID[:], string(ident.Kind), ident.Creator[:], int64(ident.Home), int64(ident.CreatedAt), int64(ident.LastUpdated))
		if err != nil {
			return translateUnique(err)
		}
		for i, link := range ident.Links.Values() {
			key := link.Key()
			_, err := tx.ExecContext(ctx,
				`INSERT INTO linked_addresses (identity_id, position, domain_id, address, address_key) VALUES ($1, $2, $3, $4, $5)`,
				ident.ID[:], i, int64(link.DomainID), link.Address[:], key[:])
			if err != nil {
				return translateUnique(err)
			}
		}
		return nil
	})
}

func (s *Postgres) Identity(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	ident := &models.Identity{
		ID:        id,
		Links:     models.NewLinkSet(),
		Approvals: make(map[domain.Address]struct{}),
	}

	var kind string
	var creator []byte
	var homeDomain, createdAt, lastUpdated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, creator, home_domain, created_at, last_updated FROM identities WHERE id = $1`, id[:]).
		Scan(&kind, &creator, &homeDomain, &createdAt, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	ident.Kind = models.Kind(kind)
	copy(ident.Creator[:], creator)
	ident.Home = domain.DomainID(homeDomain)
	ident.CreatedAt = domain.Timestamp(createdAt)
	ident.LastUpdated = domain.Timestamp(lastUpdated)

	links, err := s.Addresses(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		ident.Links.Add(link)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT address FROM approvals WHERE identity_id = $1`, id[:])
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		var addr domain.Address
		copy(addr[:], raw)
		ident.Approvals[addr] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}

	if ident.IsCommunity() {
		ident.Members = models.NewMemberSet()
		members, err := s.Members(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			ident.Members.Add(m)
		}
	}
	return ident, nil
}

func (s *Postgres) LinkAddress(ctx context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockIdentity(ctx, tx, id); err != nil {
			return err
		}
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM linked_addresses WHERE identity_id = $1`, id[:]).Scan(&next)
		if err != nil {
			return fmt.Errorf("next link position: %w", err)
		}
		key := link.Key()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO linked_addresses (identity_id, position, domain_id, address, address_key) VALUES ($1, $2, $3, $4, $5)`,
			id[:], next, int64(link.DomainID), link.Address[:], key[:])
		if err != nil {
			return translateUnique(err)
		}
		return touchIdentity(ctx, tx, id, ts)
	})
}

func (s *Postgres) UnlinkAddress(ctx context.Context, id domain.IdentityID, link models.LinkedAddress, ts domain.Timestamp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var creator []byte
		var homeDomain int64
		err := tx.QueryRowContext(ctx,
			`SELECT creator, home_domain FROM identities WHERE id = $1 FOR UPDATE`, id[:]).
			Scan(&creator, &homeDomain)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}
		var creatorAddr domain.Address
		copy(creatorAddr[:], creator)
		if link.Address == creatorAddr && link.DomainID == domain.DomainID(homeDomain) {
			return ErrCreatorLink
		}

		key := link.Key()
		var pos int
		err = tx.QueryRowContext(ctx,
			`SELECT position FROM linked_addresses WHERE identity_id = $1 AND address_key = $2`, id[:], key[:]).Scan(&pos)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find link: %w", err)
		}
		var last int
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(position) FROM linked_addresses WHERE identity_id = $1`, id[:]).Scan(&last)
		if err != nil {
			return fmt.Errorf("last link position: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM linked_addresses WHERE identity_id = $1 AND position = $2`, id[:], pos); err != nil {
			return fmt.Errorf("delete link: %w", err)
		}
		if pos != last {
			// Swap: the highest-position row fills the freed slot.
			if _, err := tx.ExecContext(ctx,
				`UPDATE linked_addresses SET position = $3 WHERE identity_id = $1 AND position = $2`,
				id[:], last, pos); err != nil {
				return fmt.Errorf("move last link: %w", err)
			}
		}
		return touchIdentity(ctx, tx, id, ts)
	})
}

func (s *Postgres) AddMember(ctx context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockCommunity(ctx, tx, communityID); err != nil {
			return err
		}
		var memberExists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, memberID[:]).Scan(&memberExists)
		if err != nil {
			return fmt.Errorf("check member: %w", err)
		}
		if !memberExists {
			return ErrNotFound
		}
		var next int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM community_members WHERE community_id = $1`, communityID[:]).Scan(&next)
		if err != nil {
			return fmt.Errorf("next member position: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO community_members (community_id, position, member_id) VALUES ($1, $2, $3)
			 ON CONFLICT ON CONSTRAINT community_members_unique DO NOTHING`,
			communityID[:], next, memberID[:])
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
		return touchIdentity(ctx, tx, communityID, ts)
	})
}

func (s *Postgres) RemoveMember(ctx context.Context, communityID, memberID domain.IdentityID, ts domain.Timestamp) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockCommunity(ctx, tx, communityID); err != nil {
			return err
		}
		var pos int
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM community_members WHERE community_id = $1 AND member_id = $2`,
			communityID[:], memberID[:]).Scan(&pos)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find member: %w", err)
		}
		var last int
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(position) FROM community_members WHERE community_id = $1`, communityID[:]).Scan(&last)
		if err != nil {
			return fmt.Errorf("last member position: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM community_members WHERE community_id = $1 AND position = $2`, communityID[:], pos); err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		if pos != last {
			if _, err := tx.ExecContext(ctx,
				`UPDATE community_members SET position = $3 WHERE community_id = $1 AND position = $2`,
				communityID[:], last, pos); err != nil {
				return fmt.Errorf("move last member: %w", err)
			}
		}
		return touchIdentity(ctx, tx, communityID, ts)
	})
}

func (s *Postgres) Approve(ctx context.Context, id domain.IdentityID, target domain.Address) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockIdentity(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO approvals (identity_id, address) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id[:], target[:])
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		return nil
	})
}

func (s *Postgres) Revoke(ctx context.Context, id domain.IdentityID, target domain.Address) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockIdentity(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM approvals WHERE identity_id = $1 AND address = $2`, id[:], target[:])
		if err != nil {
			return fmt.Errorf("delete approval: %w", err)
		}
		return nil
	})
}

func (s *Postgres) IsApproved(ctx context.Context, id domain.IdentityID, addr domain.Address) (bool, error) {
	var creator []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT creator FROM identities WHERE id = $1`, id[:]).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load creator: %w", err)
	}
	var creatorAddr domain.Address
	copy(creatorAddr[:], creator)
	if addr == creatorAddr {
		return true, nil
	}
	var approved bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM approvals WHERE identity_id = $1 AND address = $2)`,
		id[:], addr[:]).Scan(&approved)
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	return approved, nil
}

func (s *Postgres) LookupOwner(ctx context.Context, dom domain.DomainID, addr domain.Address) (domain.IdentityID, bool, error) {
	key := domain.DeriveAddressKey(dom, addr)
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT identity_id FROM linked_addresses WHERE address_key = $1`, key[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdentityID{}, false, nil
	}
	if err != nil {
		return domain.IdentityID{}, false, fmt.Errorf("lookup owner: %w", err)
	}
	var id domain.IdentityID
	copy(id[:], raw)
	return id, true, nil
}

func (s *Postgres) Addresses(ctx context.Context, id domain.IdentityID) ([]models.LinkedAddress, error) {
	if err := s.requireIdentity(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain_id, address FROM linked_addresses WHERE identity_id = $1 ORDER BY position`, id[:])
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}
	defer rows.Close()

	var out []models.LinkedAddress
	for rows.Next() {
		var domainID int64
		var raw []byte
		if err := rows.Scan(&domainID, &raw); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		var link models.LinkedAddress
		link.DomainID = domain.DomainID(domainID)
		copy(link.Address[:], raw)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return out, nil
}

func (s *Postgres) Creator(ctx context.Context, id domain.IdentityID) (domain.Address, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT creator FROM identities WHERE id = $1`, id[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Address{}, ErrNotFound
	}
	if err != nil {
		return domain.Address{}, fmt.Errorf("load creator: %w", err)
	}
	var addr domain.Address
	copy(addr[:], raw)
	return addr, nil
}

func (s *Postgres) Members(ctx context.Context, communityID domain.IdentityID) ([]domain.IdentityID, error) {
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind FROM identities WHERE id = $1`, communityID[:]).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load community: %w", err)
	}
	if models.Kind(kind) != models.KindCommunity {
		return nil, ErrNotCommunity
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id FROM community_members WHERE community_id = $1 ORDER BY position`, communityID[:])
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var out []domain.IdentityID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		var id domain.IdentityID
		copy(id[:], raw)
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Postgres) requireIdentity(ctx context.Context, id domain.IdentityID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id[:]).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check identity: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func touchIdentity(ctx context.Context, tx *sql.Tx, id domain.IdentityID, ts domain.Timestamp) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE identities SET last_updated = $2 WHERE id = $1`, id[:], int64(ts)); err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	return nil
}

func lockIdentity(ctx context.Context, tx *sql.Tx, id domain.IdentityID) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM identities WHERE id = $1 FOR UPDATE`, id[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	return nil
}

func lockCommunity(ctx context.Context, tx *sql.Tx, id domain.IdentityID) error {
	var kind string
	err := tx.QueryRowContext(ctx,
		`SELECT kind FROM identities WHERE id = $1 FOR UPDATE`, id[:]).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock community: %w", err)
	}
	if models.Kind(kind) != models.KindCommunity {
		return ErrNotCommunity
	}
	return nil
}

// translateUnique maps a Postgres unique violation onto the named store
// error for the constraint that fired.
func translateUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		switch pqErr.Constraint {
		case constraintOwner:
			return ErrAddressOwned
		case constraintIdentity:
			return ErrIdentityExists
		}
	}
	return fmt.Errorf("directory write: %w", err)
}
