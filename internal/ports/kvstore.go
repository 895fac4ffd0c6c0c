package ports

import "context"

// KVStore est le stockage clé/valeur qui remplace le localStorage du navigateur.
// Il ne gère aucune expiration: la fraîcheur des enregistrements est évaluée à la lecture, côté service.
type KVStore interface {
	// Get renvoie ErrNotFound si la clé est absente.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
