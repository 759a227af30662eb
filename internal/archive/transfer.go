package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dshills/plugsync/internal/history"
)

// Export writes every snapshot of game to sink, oldest first, and returns
// the number written.
func Export(ctx context.Context, store *history.Store, game string, sink Sink, compress bool) (int, error) {
	list, err := store.List(ctx, game, 0)
	if err != nil {
		return 0, err
	}
	snaps := make([]*history.Snapshot, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		snap, err := store.Get(ctx, list[i].ID)
		if err != nil {
			return 0, err
		}
		snaps = append(snaps, snap)
	}

	data, err := Marshal(FromHistory(game, snaps), compress)
	if err != nil {
		return 0, err
	}
	if err := sink.Put(ctx, data); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Game     string
	Imported int
	Skipped  int
}

// Import reads the archive in sink into store. Snapshots already present
// are skipped, so importing twice is harmless. When game is not empty the
// archive must belong to it.
func Import(ctx context.Context, store *history.Store, sink Sink, game string) (*ImportResult, error) {
	data, err := sink.Get(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if game != "" && doc.Game != game {
		return nil, fmt.Errorf("archive %s holds %s history, not %s", sink, doc.Game, game)
	}

	res := &ImportResult{Game: doc.Game}
	for _, snap := range doc.History() {
		added, err := store.Import(ctx, snap)
		if err != nil {
			return res, err
		}
		if added {
			res.Imported++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}
