package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

// Tabs resolves transport-assigned tab ids.
type Tabs interface {
	Get(ctx context.Context, tabID int) (core.Tab, error)
}

// Windows opens and closes consent windows.
type Windows interface {
	Open(ctx context.Context, spec core.WindowSpec) (windowID int, err error)
	Close(ctx context.Context, windowID int) error
}
