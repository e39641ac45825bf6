package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/logging"
)

// Environment swaps the SDK tree a build runs against.
type Environment interface {
	// Reset replaces the epoc tree with the pristine tree of an SDK edition.
	Reset(ctx context.Context, edition string) error
	// Install unpacks an SDK zip over the current epoc tree.
	Install(ctx context.Context, zip string) error
	// Remove deletes the epoc tree.
	Remove(ctx context.Context) error
	// Root is the epoc tree directory.
	Root() string
}

// EpocTree is the epoc32 directory of the host, restored from per edition
// zips that unpack into its parent.
type EpocTree struct {
	Dir  string
	Zips map[string]string
}

func (t *EpocTree) Root() string { return t.Dir }

func (t *EpocTree) Reset(ctx context.Context, edition string) error {
	zip, ok := t.Zips[edition]
	if !ok || zip == "" {
		return fmt.Errorf("no epoc zip configured for SDK %s", edition)
	}
	if _, err := os.Stat(zip); err != nil {
		return fmt.Errorf("epoc zip for SDK %s: %w", edition, err)
	}
	logging.FromContext(ctx).Info("creating clean epoc tree", "edition", edition, "zip", zip)
	if err := t.Remove(ctx); err != nil {
		return err
	}
	return t.Install(ctx, zip)
}

func (t *EpocTree) Install(ctx context.Context, zip string) error {
	logging.FromContext(ctx).Info("unpacking into epoc tree", "zip", zip)
	if err := archive.Unzip(zip, filepath.Dir(t.Dir)); err != nil {
		return fmt.Errorf("install %s: %w", filepath.Base(zip), err)
	}
	return nil
}

func (t *EpocTree) Remove(ctx context.Context) error {
	if err := os.RemoveAll(t.Dir); err != nil {
		return fmt.Errorf("remove epoc tree: %w", err)
	}
	return nil
}
