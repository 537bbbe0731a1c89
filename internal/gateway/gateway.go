package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/chargegate/internal/auth"
	"github.com/nerrad567/chargegate/internal/httpx"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
	"github.com/nerrad567/chargegate/internal/session"
)

// OperatorLookup resolves the operator a session belongs to.
type OperatorLookup interface {
	GetByID(ctx context.Context, id string) (*auth.Operator, error)
}

// Options holds the cookie and redirect settings of the gateway.
type Options struct {
	SignInPath    string
	SessionCookie string
	CookieSecure  bool
	Realm         string
}

// Deps holds the collaborators of the gateway.
type Deps struct {
	Policy    *Policy
	Validator auth.CredentialValidator
	Sessions  session.Store
	Operators OperatorLookup
	CSRF      *CSRF
	Logger    *logging.Logger
}

// Gateway is the HTTP middleware enforcing the policy.
type Gateway struct {
	opts      Options
	policy    *Policy
	validator auth.CredentialValidator
	sessions  session.Store
	operators OperatorLookup
	csrf      *CSRF
	logger    *logging.Logger
}

// New creates a Gateway. All Deps fields are required.
func New(opts Options, deps Deps) (*Gateway, error) {
	if deps.Policy == nil || deps.Validator == nil || deps.Sessions == nil ||
		deps.Operators == nil || deps.CSRF == nil || deps.Logger == nil {
		return nil, errors.New("gateway: missing dependency")
	}
	if opts.SignInPath == "" || opts.SessionCookie == "" {
		return nil, errors.New("gateway: sign-in path and session cookie are required")
	}
	return &Gateway{
		opts:      opts,
		policy:    deps.Policy,
		validator: deps.Validator,
		sessions:  deps.Sessions,
		operators: deps.Operators,
		csrf:      deps.CSRF,
		logger:    deps.Logger.With("component", "gateway"),
	}, nil
}

// Policy returns the classification policy the gateway enforces.
func (g *Gateway) Policy() *Policy {
	return g.policy
}

// Middleware classifies each request and runs the governing chain.
//
// Downstream handlers see the cleaned path that was classified, so routing
// cannot disagree with the policy. Paths carrying escapes that do not
// round-trip (such as %2F) are refused before classification.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawPath != "" {
			g.logger.Debug("escaped request path rejected", "raw_path", r.URL.RawPath)
			httpx.WriteBadRequest(w, "escaped characters are not accepted in the request path")
			return
		}

		chain, rule, cleaned := g.policy.Classify(r.URL.Path)
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyChain, chain.Name))
		if cleaned != r.URL.Path {
			u := *r.URL
			u.Path = cleaned
			r.URL = &u
		}

		if chain.Stateless {
			g.serveStateless(w, r, rule, next)
			return
		}
		g.serveInteractive(w, r, chain, rule, cleaned, next)
	})
}

// serveStateless validates credentials carried by the request itself.
// It never reads or writes cookies.
func (g *Gateway) serveStateless(w http.ResponseWriter, r *http.Request, rule Rule, next http.Handler) {
	if rule.Access == Public {
		next.ServeHTTP(w, r)
		return
	}

	creds, err := auth.ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		g.challenge(w, "authentication required")
		return
	}

	principal, err := g.validator.Validate(r.Context(), creds)
	if err != nil {
		if isCredentialError(err) {
			g.logger.Debug("api credentials rejected", "path", r.URL.Path, "scheme", creds.Scheme, "error", err)
			g.challenge(w, "invalid credentials")
			return
		}
		g.logger.Error("validating api credentials", "path", r.URL.Path, "error", err)
		httpx.WriteInternalError(w, "credential check failed")
		return
	}

	switch rule.Decide(principal) {
	case Allow:
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	case Challenge:
		g.challenge(w, "authentication required")
	default:
		httpx.WriteForbidden(w, "access denied")
	}
}

func (g *Gateway) challenge(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", g.opts.Realm))
	httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, message)
}

func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrInvalidCredentials) ||
		errors.Is(err, auth.ErrMissingCredentials) ||
		errors.Is(err, auth.ErrUnsupportedScheme) ||
		errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, auth.ErrClientInactive) ||
		errors.Is(err, auth.ErrClientNotFound)
}

// serveInteractive resolves the session, enforces CSRF and applies the rule.
func (g *Gateway) serveInteractive(w http.ResponseWriter, r *http.Request, chain *Chain, rule Rule, cleaned string, next http.Handler) {
	principal, stale := g.resolveSession(r)
	if stale {
		g.clearSessionCookie(w)
		if cleaned != g.opts.SignInPath {
			http.Redirect(w, r, g.opts.SignInPath, http.StatusFound)
			return
		}
	}

	token, err := g.csrf.Ensure(w, r)
	if err != nil {
		g.logger.Error("issuing csrf token", "error", err)
		httpx.WriteInternalError(w, "internal server error")
		return
	}
	ctx := context.WithValue(r.Context(), ctxKeyCSRFToken, token)

	if !SafeMethod(r.Method) && !chain.CSRFExempt(cleaned) && !g.csrf.Verify(r) {
		g.logger.Debug("csrf check failed", "method", r.Method, "path", r.URL.Path)
		httpx.WriteError(w, http.StatusForbidden, httpx.CodeCSRFInvalid, "missing or invalid csrf token")
		return
	}

	switch rule.Decide(principal) {
	case Allow:
		if principal != nil {
			ctx = WithPrincipal(ctx, principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	case Challenge:
		http.Redirect(w, r, g.opts.SignInPath, http.StatusFound)
	default:
		httpx.WriteForbidden(w, "access denied")
	}
}

// resolveSession maps the session cookie to a principal. stale is true when
// a cookie was presented but no longer names a live session of an active
// operator.
func (g *Gateway) resolveSession(r *http.Request) (principal *auth.Principal, stale bool) {
	ck, err := r.Cookie(g.opts.SessionCookie)
	if err != nil || ck.Value == "" {
		return nil, false
	}
	ctx := r.Context()

	s, err := g.sessions.Get(ctx, ck.Value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, true
		}
		g.logger.Warn("session lookup failed", "error", err)
		return nil, false
	}

	op, err := g.operators.GetByID(ctx, s.OperatorID)
	if err != nil || !op.IsActive {
		if err != nil && !errors.Is(err, auth.ErrOperatorNotFound) {
			g.logger.Warn("operator lookup failed", "error", err)
			return nil, false
		}
		_ = g.sessions.Delete(ctx, s.ID) //nolint:errcheck // best effort; the cookie is cleared anyway
		return nil, true
	}

	if err := g.sessions.Touch(ctx, s.ID); err != nil {
		g.logger.Debug("session touch failed", "error", err)
	}
	return op.Principal(s.ID), false
}

// StartSession signs an operator in. Any session named by the request cookie
// is destroyed first so a pre-authentication ID can never be reused.
func (g *Gateway) StartSession(w http.ResponseWriter, r *http.Request, op *auth.Operator) (*session.Session, error) {
	if ck, err := r.Cookie(g.opts.SessionCookie); err == nil && ck.Value != "" {
		_ = g.sessions.Delete(r.Context(), ck.Value) //nolint:errcheck // old session may already be gone
	}

	s, err := g.sessions.Create(r.Context(), op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.opts.SessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// A fresh CSRF token for the authenticated session.
	if _, err := g.csrf.Issue(w); err != nil {
		return nil, err
	}
	return s, nil
}

// EndSession deletes the request's session and expires the cookie.
func (g *Gateway) EndSession(w http.ResponseWriter, r *http.Request) error {
	var err error
	if p := PrincipalFromContext(r.Context()); p != nil && p.SessionID != "" {
		err = g.sessions.Delete(r.Context(), p.SessionID)
	} else if ck, cerr := r.Cookie(g.opts.SessionCookie); cerr == nil && ck.Value != "" {
		err = g.sessions.Delete(r.Context(), ck.Value)
	}
	g.clearSessionCookie(w)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (g *Gateway) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.opts.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
