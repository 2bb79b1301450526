// Package storage provides durable key-value slots: the client's equivalent of
// browser local storage. Each slot holds one serialized value under a fixed key.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: key not found")

// Well-known slot keys.
const (
	KeyCart  = "macrobox_cart"
	KeyToken = "token"
	KeyUser  = "user"
)

type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
