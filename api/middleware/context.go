package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumenpay/settlement-backend/pkg/enums"
)

type contextKey string

const (
	ctxOrganizationID contextKey = "organization_id"
	ctxEnvironment    contextKey = "environment"
	ctxSubject        contextKey = "service_subject"
)

// ServiceScope is the organization and network a service token was minted for.
type ServiceScope struct {
	OrganizationID uuid.UUID
	Environment    enums.Network
	Subject        string
}

// ScopeFromContext returns the scope injected by ServiceAuth.
func ScopeFromContext(ctx context.Context) (ServiceScope, bool) {
	if ctx == nil {
		return ServiceScope{}, false
	}
	orgID, ok := ctx.Value(ctxOrganizationID).(uuid.UUID)
	if !ok || orgID == uuid.Nil {
		return ServiceScope{}, false
	}
	env, _ := ctx.Value(ctxEnvironment).(enums.Network)
	subject, _ := ctx.Value(ctxSubject).(string)
	return ServiceScope{OrganizationID: orgID, Environment: env, Subject: subject}, true
}

// WithServiceScope injects the token scope into the context for downstream handlers.
func WithServiceScope(ctx context.Context, scope ServiceScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxOrganizationID, scope.OrganizationID)
	ctx = context.WithValue(ctx, ctxEnvironment, scope.Environment)
	return context.WithValue(ctx, ctxSubject, scope.Subject)
}
