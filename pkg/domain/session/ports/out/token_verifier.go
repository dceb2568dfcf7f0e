package out

import (
	"context"

	"github.com/frontierwars/session-engine/pkg/domain/session/entities"
)

// TokenVerifier is the narrow contract this server consumes from the out-of-scope
// identity/privilege service: given a bearer token it recovers the caller's access
// grant, or an error if the token is missing, expired, or malformed. The Worker Host
// never issues tokens itself, only verifies the ones it is handed.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*entities.AccessGrant, error)
}
