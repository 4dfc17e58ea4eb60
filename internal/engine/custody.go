package engine

import (
	"context"
	"errors"

	"github.com/atmx/treasury-engine/internal/custody"
	"github.com/atmx/treasury-engine/internal/model"
	"github.com/atmx/treasury-engine/internal/treasury"
)

// ListCustody returns the user's custody rows.
func (e *Engine) ListCustody(ctx context.Context, userID string) ([]model.CustodyAsset, error) {
	assets, err := e.structures.ListCustodyAssets(ctx, userID)
	if err != nil {
		return nil, e.persistence("list custody", userID, err)
	}
	return assets, nil
}

// UpdateCustodyAsset applies a manual market price or guarantee change.
func (e *Engine) UpdateCustodyAsset(ctx context.Context, userID, symbol string, u custody.AssetUpdate) (*model.CustodyAsset, *treasury.Snapshot, error) {
	asset, err := e.custody.UpdateAsset(ctx, userID, symbol, u)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return nil, nil, err
		}
		return nil, nil, e.persistence("update custody", userID, err)
	}
	snap, err := e.changed(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return asset, snap, nil
}
