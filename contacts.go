package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// ContactStore is the directory of known senders. It backs the resolver's
// directory tier and the contact CRUD endpoints. Alias lookups are cached
// because the resolver hits them on every group message.
type ContactStore struct {
	store      *MessageStore
	aliasCache *cache.Cache
}

func NewContactStore(store *MessageStore) *ContactStore {
	return &ContactStore{
		store:      store,
		aliasCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// LookupPhone implements ContactDirectory: it maps a raw transport alias to a
// phone number, returning "" without error when no contact matches.
func (c *ContactStore) LookupPhone(ctx context.Context, alias string) (string, error) {
	if v, found := c.aliasCache.Get(alias); found {
		return v.(string), nil
	}

	var phone string
	query := c.store.db.Rebind(`SELECT phone FROM contacts WHERE alias = ?`)
	err := c.store.db.GetContext(ctx, &phone, query, alias)
	if errors.Is(err, sql.ErrNoRows) {
		c.aliasCache.Set(alias, "", cache.DefaultExpiration)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("contact lookup failed: %w", err)
	}

	c.aliasCache.Set(alias, phone, cache.DefaultExpiration)
	return phone, nil
}

// List returns all contacts, newest first.
func (c *ContactStore) List(ctx context.Context) ([]Contact, error) {
	contacts := []Contact{}
	err := c.store.db.SelectContext(ctx, &contacts,
		`SELECT * FROM contacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// Get fetches a contact by phone.
func (c *ContactStore) Get(ctx context.Context, phone string) (*Contact, error) {
	var contact Contact
	query := c.store.db.Rebind(`SELECT * FROM contacts WHERE phone = ?`)
	if err := c.store.db.GetContext(ctx, &contact, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch contact: %w", err)
	}
	return &contact, nil
}

// Upsert creates or updates a contact keyed by phone.
func (c *ContactStore) Upsert(ctx context.Context, contact Contact) (*Contact, error) {
	if contact.Phone == "" {
		return nil, newValidationError("phone", "must not be empty")
	}
	if !isNumericPhone(normalizePhone(contact.Phone)) {
		return nil, newValidationError("phone", "must be a phone number with at least 8 digits")
	}
	contact.Phone = normalizePhone(contact.Phone)

	now := time.Now().UTC()
	contact.UpdatedAt = now

	query := c.store.db.Rebind(`
		INSERT INTO contacts (phone, name, alias, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET
			name = excluded.name,
			alias = excluded.alias,
			updated_at = excluded.updated_at`)
	if _, err := c.store.db.ExecContext(ctx, query,
		contact.Phone, contact.Name, contact.Alias, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	if contact.Alias != "" {
		c.aliasCache.Set(contact.Alias, contact.Phone, cache.DefaultExpiration)
	}

	log.Debug().Str("phone", contact.Phone).Str("alias", contact.Alias).Msg("Contact stored")
	return c.Get(ctx, contact.Phone)
}

// Delete removes a contact by phone.
func (c *ContactStore) Delete(ctx context.Context, phone string) error {
	query := c.store.db.Rebind(`DELETE FROM contacts WHERE phone = ?`)
	res, err := c.store.db.ExecContext(ctx, query, phone)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	c.aliasCache.Flush()
	return nil
}
