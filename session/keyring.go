package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the credential-manager service name.
const DefaultKeyringService = "authclient"

const keyringAccount = "session"

// KeyringStore keeps Tokens in the operating system credential manager.
type KeyringStore struct {
	service string
	account string
}

// NewKeyringStore returns a store under service/account. Empty values use
// the defaults.
func NewKeyringStore(service, account string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	if account == "" {
		account = keyringAccount
	}
	return &KeyringStore{service: service, account: account}
}

// Save implements Store.
func (s *KeyringStore) Save(_ context.Context, t *Tokens) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, s.account, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("store session in keyring: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *KeyringStore) Load(context.Context) (*Tokens, error) {
	raw, err := keyring.Get(s.service, s.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session from keyring: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrCorrupt
	}
	return Decode(data)
}

// Clear implements Store.
func (s *KeyringStore) Clear(context.Context) error {
	if err := keyring.Delete(s.service, s.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete session from keyring: %w", err)
	}
	return nil
}
