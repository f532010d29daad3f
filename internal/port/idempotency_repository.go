package port

import "context"

type IdempotencyRepository interface {
	// Claim binds key to orderID, returns the already bound order id and false if the key was taken
	Claim(ctx context.Context, key, orderID string) (string, bool, error)

	// Forget drops a claim whose order was never recorded
	Forget(ctx context.Context, key string) error
}
