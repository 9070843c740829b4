// Package persist stores the current authguard session between runs, either
// in the OS keychain or in a private JSON file.
package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-authguard"
)

// Storage persists a single session. Load returns nil, nil when nothing is stored.
type Storage interface {
	Load(ctx context.Context) (*authguard.Session, error)
	Save(ctx context.Context, session *authguard.Session) error
	Clear(ctx context.Context) error
}

func encode(session *authguard.Session) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("persist: nil session")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("persist: failed to encode session: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*authguard.Session, error) {
	var session authguard.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("persist: failed to decode session: %w", err)
	}
	if session.AccessToken == "" {
		return nil, nil
	}
	return &session, nil
}
