package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seclens/seclens/internal/domain/auth"
)

// ErrorCode identifies why a delegation request was rejected.
type ErrorCode string

const (
	// CodeNotEnabled: the credential does not allow delegation.
	CodeNotEnabled ErrorCode = "DELEGATION_NOT_ENABLED"
	// CodeInvalidEmail: the delegate email is syntactically invalid.
	CodeInvalidEmail ErrorCode = "DELEGATION_INVALID_EMAIL"
	// CodeDomainRejected: the email domain is not on the allow-list.
	CodeDomainRejected ErrorCode = "DELEGATION_DOMAIN_REJECTED"
	// CodeUserNotFound: no active identity exists for the email.
	CodeUserNotFound ErrorCode = "DELEGATION_USER_NOT_FOUND"
)

// Error is a terminal delegation failure. Delegation failures are never
// retried; the request fails with an unauthorized-class error.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validator validates delegation requests against a credential's policy
// and produces execution contexts.
type Validator struct {
	identities auth.IdentityStore
	table      *auth.RolePermissionTable
	logger     *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(identities auth.IdentityStore, table *auth.RolePermissionTable, logger *slog.Logger) *Validator {
	return &Validator{identities: identities, table: table, logger: logger}
}

// ContextFor builds a non-delegated execution context: the credential's
// grants apply verbatim and no role flags are set.
func (v *Validator) ContextFor(cred *auth.Credential) *ExecutionContext {
	return &ExecutionContext{
		CredentialID:         cred.ID,
		EffectivePermissions: auth.EffectivePermissions(v.table, cred, nil),
	}
}

// Validate checks a delegation request and produces an execution context.
// Checks run in order and short-circuit on the first failure:
//
//  1. credential has delegation enabled (and a non-empty domain allow-list)
//  2. email is syntactically valid
//  3. email domain is on the credential's allow-list
//  4. an active identity exists for the lower-cased email
//
// Failures return a *Error with the matching code. Store failures that are
// not "identity not found" surface as wrapped infrastructure errors,
// distinct from the terminal delegation errors.
func (v *Validator) Validate(ctx context.Context, cred *auth.Credential, rawEmail string) (*ExecutionContext, error) {
	// An empty allow-list disables delegation regardless of the flag.
	if !cred.DelegationEnabled || len(cred.AllowedDelegationDomains) == 0 {
		return nil, &Error{Code: CodeNotEnabled, Message: "credential does not allow delegation"}
	}

	email := strings.ToLower(strings.TrimSpace(rawEmail))
	local, domain, ok := splitEmail(email)
	if !ok || local == "" || domain == "" {
		return nil, &Error{Code: CodeInvalidEmail, Message: "delegate email is not a valid address"}
	}

	if !cred.AllowsDomain(domain) {
		v.logger.Debug("delegation domain rejected",
			"credential_id", cred.ID,
			"domain", domain,
		)
		return nil, &Error{Code: CodeDomainRejected, Message: fmt.Sprintf("domain %q is not allowed for delegation", domain)}
	}

	identity, err := v.identities.FindActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrIdentityNotFound) {
			return nil, &Error{Code: CodeUserNotFound, Message: "no active user exists for the delegate email"}
		}
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	execCtx := &ExecutionContext{
		CredentialID:         cred.ID,
		EffectivePermissions: auth.EffectivePermissions(v.table, cred, identity),
		DelegatedUserID:      identity.ID,
		DelegatedEmail:       identity.Email,
		IsAdmin:              identity.HasRole(auth.RoleAdmin),
		IsApprover:           identity.IsApprover(),
	}

	v.logger.Debug("delegation validated",
		"credential_id", cred.ID,
		"delegated_user_id", identity.ID,
		"effective_permissions", execCtx.EffectivePermissions.String(),
	)

	return execCtx, nil
}

// splitEmail splits an address into local and domain parts.
// Addresses with more than one '@' are rejected.
func splitEmail(email string) (local, domain string, ok bool) {
	at := strings.Index(email, "@")
	if at < 0 {
		return "", "", false
	}
	if strings.Contains(email[at+1:], "@") {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}
