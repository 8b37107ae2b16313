package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/link"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

// PeerRegistry answers which node names may hold a link.
type PeerRegistry struct {
	store store.NodeStore
	// open admits every peer; used when no peers are configured.
	open bool
}

func NewPeerRegistry(st store.NodeStore, open bool) *PeerRegistry {
	return &PeerRegistry{store: st, open: open}
}

func (r *PeerRegistry) IsKnown(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	if r.open {
		return true, nil
	}
	return r.store.IsKnown(ctx, name)
}

func (r *PeerRegistry) NoteSeen(ctx context.Context, name string, known bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, name, known, time.Now().UTC())
}

func (r *PeerRegistry) List(ctx context.Context) ([]store.NodeRecord, error) {
	return r.store.ListNodes(ctx)
}

// Admit is a link.AdmitFunc: it records the peer as seen and refuses
// names that are not known.
func (r *PeerRegistry) Admit(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	known, err := r.IsKnown(ctx, name)
	if err != nil {
		return err
	}
	_ = r.NoteSeen(ctx, name, known)
	if !known {
		return fmt.Errorf("unknown peer %q: %w", name, link.ErrRejected)
	}
	return nil
}
