// Package auth guards the dashboard API with static access keys. Viewer keys
// read dashboards and snapshot status; admin keys may also force a refresh.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/ongoingai/dashboard/internal/pathutil"
)

type Permission string

const (
	PermissionDashboardRead   Permission = "dashboard:read"
	PermissionSnapshotRefresh Permission = "snapshot:refresh"
)

const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

const defaultHeaderName = "X-OngoingAI-Dashboard-Key"

var ErrMissingKey = errors.New("missing dashboard key")
var ErrInvalidKey = errors.New("invalid dashboard key")

// KeyConfig describes one access key. TokenHash is the hex sha256 of the
// token and takes precedence when both are set.
type KeyConfig struct {
	ID        string
	Token     string
	TokenHash string
	Role      string
}

type Options struct {
	Enabled bool
	Header  string
	Keys    []KeyConfig
}

type Identity struct {
	KeyID string
	Role  string

	permissions map[Permission]struct{}
}

func (i *Identity) HasPermission(permission Permission) bool {
	if i == nil {
		return false
	}
	_, ok := i.permissions[permission]
	return ok
}

type Authorizer struct {
	enabled bool
	header  string
	keys    map[string]*Identity
}

func NewAuthorizer(options Options) (*Authorizer, error) {
	header := normalizeHeaderName(options.Header)
	if header == "" {
		header = defaultHeaderName
	}

	authorizer := &Authorizer{
		enabled: options.Enabled,
		header:  header,
		keys:    map[string]*Identity{},
	}
	if !options.Enabled {
		return authorizer, nil
	}
	if len(options.Keys) == 0 {
		return nil, errors.New("auth is enabled but no dashboard keys are configured")
	}

	for _, key := range options.Keys {
		tokenHash := strings.ToLower(strings.TrimSpace(key.TokenHash))
		if tokenHash == "" {
			token := strings.TrimSpace(key.Token)
			if token == "" {
				return nil, errors.New("dashboard key token cannot be empty")
			}
			tokenHash = hashToken(token)
		}
		if _, exists := authorizer.keys[tokenHash]; exists {
			return nil, errors.New("duplicate dashboard key token in auth config")
		}

		role := strings.ToLower(strings.TrimSpace(key.Role))
		if role == "" {
			role = RoleViewer
		}
		permissions, ok := rolePermissions(role)
		if !ok {
			return nil, errors.New("unknown dashboard key role " + role)
		}
		authorizer.keys[tokenHash] = &Identity{
			KeyID:       strings.TrimSpace(key.ID),
			Role:        role,
			permissions: permissions,
		}
	}

	return authorizer, nil
}

func (a *Authorizer) Enabled() bool {
	return a != nil && a.enabled
}

func (a *Authorizer) HeaderName() string {
	if a == nil || strings.TrimSpace(a.header) == "" {
		return defaultHeaderName
	}
	return a.header
}

// Authenticate resolves the request's key. Disabled authorizers return a nil
// identity and no error.
func (a *Authorizer) Authenticate(r *http.Request) (*Identity, error) {
	if !a.Enabled() {
		return nil, nil
	}

	token := strings.TrimSpace(r.Header.Get(a.HeaderName()))
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		return nil, ErrMissingKey
	}

	identity, ok := a.keys[hashToken(token)]
	if !ok {
		return nil, ErrInvalidKey
	}
	return identity.clone(), nil
}

type MiddlewareOptions struct {
	APIPrefix     string
	AuditRecorder AuditRecorder
}

type AuditRecorder func(r *http.Request, event AuditEvent)

type AuditEvent struct {
	Outcome            string
	Reason             string
	StatusCode         int
	Path               string
	RequiredPermission Permission
	KeyID              string
}

func Middleware(authorizer *Authorizer, options MiddlewareOptions, next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	if authorizer == nil || !authorizer.Enabled() {
		return next
	}
	apiPrefix := pathutil.NormalizePrefix(options.APIPrefix)
	if apiPrefix == "/" {
		apiPrefix = "/api"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		permission, required := requiredPermission(r.Method, r.URL.Path, apiPrefix)
		if !required {
			next.ServeHTTP(w, r)
			return
		}
		deny := func(status int, reason string, identity *Identity, message string) {
			if options.AuditRecorder != nil {
				event := AuditEvent{
					Outcome:            "deny",
					Reason:             reason,
					StatusCode:         status,
					Path:               r.URL.Path,
					RequiredPermission: permission,
				}
				if identity != nil {
					event.KeyID = identity.KeyID
				}
				options.AuditRecorder(r, event)
			}
			writeAuthError(w, status, message)
		}

		identity, err := authorizer.Authenticate(r)
		if err != nil {
			reason := "invalid_key"
			if errors.Is(err, ErrMissingKey) {
				reason = "missing_key"
			}
			deny(http.StatusUnauthorized, reason, nil, "missing or invalid dashboard key")
			return
		}
		if !identity.HasPermission(permission) {
			deny(http.StatusForbidden, "permission_denied", identity, "dashboard key does not have required permission")
			return
		}

		request := r.Clone(WithIdentity(r.Context(), identity))
		request.Header = r.Header.Clone()
		request.Header.Del(authorizer.HeaderName())
		request.Header.Del("Authorization")
		next.ServeHTTP(w, request)
	})
}

// requiredPermission maps a request to the permission it needs. Preflight,
// health and non-API paths are public.
func requiredPermission(method, path, apiPrefix string) (Permission, bool) {
	if method == http.MethodOptions {
		return "", false
	}
	if !pathutil.HasPathPrefix(path, apiPrefix) || path == apiPrefix+"/health" {
		return "", false
	}
	if method == http.MethodPost && path == apiPrefix+"/snapshot/refresh" {
		return PermissionSnapshotRefresh, true
	}
	return PermissionDashboardRead, true
}

func rolePermissions(role string) (map[Permission]struct{}, bool) {
	switch role {
	case RoleViewer:
		return map[Permission]struct{}{PermissionDashboardRead: {}}, true
	case RoleAdmin:
		return map[Permission]struct{}{PermissionDashboardRead: {}, PermissionSnapshotRefresh: {}}, true
	default:
		return nil, false
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func bearerToken(value string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func normalizeHeaderName(header string) string {
	value := strings.TrimSpace(header)
	if value == "" {
		return ""
	}
	return textproto.CanonicalMIMEHeaderKey(value)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.permissions = make(map[Permission]struct{}, len(i.permissions))
	for permission := range i.permissions {
		out.permissions[permission] = struct{}{}
	}
	return &out
}

type contextIdentityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, contextIdentityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(contextIdentityKey{}).(*Identity)
	return identity, ok && identity != nil
}
