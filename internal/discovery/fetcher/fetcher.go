// Package fetcher issues the primary note listing for a discovery context.
package fetcher

import (
	"context"
	"log/slog"

	"github.com/pucknotes/note-discovery/internal/discovery"
	"github.com/pucknotes/note-discovery/internal/notes"
	apperrors "github.com/pucknotes/note-discovery/pkg/errors"
)

// NoteLister is the slice of the backend client the fetcher needs.
type NoteLister interface {
	ListNotes(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error)
}

type Fetcher struct {
	lister NoteLister
	logger *slog.Logger
}

func New(lister NoteLister) *Fetcher {
	return &Fetcher{
		lister: lister,
		logger: slog.Default().With("component", "query-fetcher"),
	}
}

// Fetch returns the candidate notes for dc, sorted server-side by spec. A
// blank query returns an empty set without touching the network. Every
// failure comes back as ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, dc discovery.Context, spec discovery.SortSpec) ([]notes.Note, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	if dc.IsBlankQuery() {
		return []notes.Note{}, nil
	}
	candidates, err := f.lister.ListNotes(ctx, dc, spec)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrFetchFailed) {
			err = apperrors.FetchFailed("listing notes for %s: %v", dc, err)
		}
		return nil, err
	}
	if candidates == nil {
		candidates = []notes.Note{}
	}
	f.logger.Debug("candidates fetched", "context", dc.String(), "count", len(candidates))
	return candidates, nil
}
