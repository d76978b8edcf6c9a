package ports

import "context"

// Storage is the key/value surface shared by the wallet's contexts. Values
// are JSON documents. Get returns core.ErrNotFound for a missing key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ChangeNotifier reports writes to Storage. The returned func cancels the
// subscription.
type ChangeNotifier interface {
	Subscribe(handler func(key string, value []byte)) (cancel func())
}
