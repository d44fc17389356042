// Package service drives the relying-party flow: build the provider
// redirect, then verify the provider's signed response and reduce it to
// a single VerificationResult.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/relier-id/relier/assoc"
	"github.com/relier-id/relier/ax"
	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/message"
	"github.com/relier-id/relier/nonce"
	"github.com/relier-id/relier/ports"
	"github.com/relier-id/relier/signature"
)

// IdentifierSelect asks the provider to choose the identity itself.
const identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"

const maxDirectResponseBytes = 64 << 10

// Config wires a RelyingParty
type Config struct {
	Associations ports.AssociationStore
	Nonces       ports.NonceStore
	Discoverer   ports.Discoverer
	Events       ports.EventPublisher // optional
	HTTPClient   *http.Client         // optional, defaults to http.DefaultClient

	// AssocType is the association type negotiated with providers
	AssocType core.AssocType

	// NonceWindow is how far back a response nonce may date; ClockSkew
	// is how far into the future it may point
	NonceWindow time.Duration
	ClockSkew   time.Duration

	// RequestAttributes are AX schema URIs asked for on every redirect
	RequestAttributes []string
}

// RelyingParty orchestrates one sign-in attempt per
// BeginAuthentication/CompleteAuthentication pair. It is stateless
// between the two calls apart from the shared stores, so concurrent
// sign-in attempts do not interfere.
type RelyingParty struct {
	assocs     ports.AssociationStore
	nonces     ports.NonceStore
	discoverer ports.Discoverer
	events     ports.EventPublisher
	client     *http.Client

	assocType   core.AssocType
	nonceWindow time.Duration
	clockSkew   time.Duration
	requestAttr []string

	now func() time.Time
}

// New creates a relying party from the config
func New(cfg Config) *RelyingParty {
	rp := &RelyingParty{
		assocs:      cfg.Associations,
		nonces:      cfg.Nonces,
		discoverer:  cfg.Discoverer,
		events:      cfg.Events,
		client:      cfg.HTTPClient,
		assocType:   cfg.AssocType,
		nonceWindow: cfg.NonceWindow,
		clockSkew:   cfg.ClockSkew,
		requestAttr: cfg.RequestAttributes,
		now:         time.Now,
	}
	if rp.client == nil {
		rp.client = http.DefaultClient
	}
	if !rp.assocType.Valid() {
		rp.assocType = core.AssocHMACSHA256
	}
	if rp.nonceWindow <= 0 {
		rp.nonceWindow = time.Hour
	}
	if rp.clockSkew <= 0 {
		rp.clockSkew = 5 * time.Minute
	}
	return rp
}

// BeginAuthentication resolves the identifier, obtains an association
// and builds the checkid_setup redirect URL. It performs no retries:
// an AssociationError is returned to the caller, who may back off and
// start a fresh attempt.
func (rp *RelyingParty) BeginAuthentication(ctx context.Context, identifier, returnTo, realm string) (string, error) {
	disc, err := rp.discoverer.Discover(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}

	association, err := rp.assocs.Latest(ctx, disc.Endpoint)
	if errors.Is(err, core.ErrAssociationNotFound) {
		association, err = assoc.Establish(ctx, rp.client, disc.Endpoint, rp.assocType)
		if err != nil {
			return "", err
		}
		if err := rp.assocs.Save(ctx, association); err != nil {
			return "", fmt.Errorf("failed to save association: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("association lookup failed: %w", err)
	}

	req := rp.buildRequest(disc, returnTo, realm, association.Handle)
	return redirectURL(disc.Endpoint, req), nil
}

func (rp *RelyingParty) buildRequest(disc *core.DiscoveredInfo, returnTo, realm, handle string) *message.Message {
	m := message.New()
	m.Set("ns", message.Namespace)
	m.Set("mode", "checkid_setup")
	if disc.OPIdentifier {
		m.Set("claimed_id", identifierSelect)
		m.Set("identity", identifierSelect)
	} else {
		m.Set("claimed_id", disc.ClaimedID)
		identity := disc.OPLocalID
		if identity == "" {
			identity = disc.ClaimedID
		}
		m.Set("identity", identity)
	}
	m.Set("return_to", returnTo)
	if realm != "" {
		m.Set("realm", realm)
	}
	m.Set("assoc_handle", handle)

	if ext := ax.FetchRequest(rp.requestAttr...); ext != nil {
		keys := make([]string, 0, len(ext))
		for k := range ext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.Set(k, ext[k])
		}
	}
	return m
}

func redirectURL(endpoint string, m *message.Message) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + m.EncodeQuery()
}

// CompleteAuthentication verifies one provider callback. Protocol-level
// rejections come back as an unverified VerificationResult with a
// reason; a non-nil error means infrastructure failed (store, direct
// verification transport) and nothing can be said about the response.
// Each response is judged exactly once; a rejected response is never
// retried.
func (rp *RelyingParty) CompleteAuthentication(ctx context.Context, returnTo string, query url.Values) (*core.VerificationResult, error) {
	msg, err := message.FromValues(query)
	if err != nil {
		return rp.reject(ctx, core.ReasonMalformedMessage, ""), nil
	}

	switch msg.Get("mode") {
	case "cancel":
		// The user backed out at the provider; nothing to look up.
		return rp.reject(ctx, core.ReasonUserCancelled, ""), nil
	case "error":
		return rp.reject(ctx, core.ReasonProviderFailure, ""), nil
	case "id_res":
	default:
		return rp.reject(ctx, core.ReasonMalformedMessage, ""), nil
	}

	if msg.Get("ns") != message.Namespace {
		return rp.reject(ctx, core.ReasonMalformedMessage, ""), nil
	}

	claimedID := msg.Get("claimed_id")

	if err := requireSignedFields(msg); err != nil {
		return rp.reject(ctx, core.ReasonMissingSignedField, claimedID), nil
	}

	if err := verifyReturnTo(returnTo, msg.Get("return_to"), query); err != nil {
		return rp.reject(ctx, core.ReasonReturnURLMismatch, claimedID), nil
	}

	rawNonce := msg.Get("response_nonce")
	if err := nonce.Check(rawNonce, rp.now(), rp.nonceWindow, rp.clockSkew); err != nil {
		return rp.reject(ctx, core.ReasonInvalidNonce, claimedID), nil
	}

	endpoint := msg.Get("op_endpoint")
	if err := rp.verifySignature(ctx, endpoint, msg); err != nil {
		if reason, ok := rejectReasonFor(err); ok {
			return rp.reject(ctx, reason, claimedID), nil
		}
		return nil, err
	}

	fresh, err := rp.nonces.CheckAndRecord(ctx, endpoint, rawNonce)
	if err != nil {
		return nil, fmt.Errorf("nonce store failed: %w", err)
	}
	if !fresh {
		return rp.reject(ctx, core.ReasonReplayDetected, claimedID), nil
	}

	result := &core.VerificationResult{
		Verified:   true,
		ClaimedID:  claimedID,
		Nonce:      rawNonce,
		Attributes: ax.Extract(msg),
	}
	rp.publish(ctx, result)
	return result, nil
}

// verifySignature proves the response's MAC, preferring the stored
// association and falling back to direct verification with the provider
// when the handle is unknown or already expired (stateless mode).
func (rp *RelyingParty) verifySignature(ctx context.Context, endpoint string, msg *message.Message) error {
	handle := msg.Get("assoc_handle")

	association, err := rp.assocs.Lookup(ctx, endpoint, handle)
	switch {
	case err == nil:
		if err := signature.Verify(msg, association, rp.now()); err != nil {
			if errors.Is(err, core.ErrAssociationNotFound) {
				return rp.checkAuthentication(ctx, endpoint, msg)
			}
			return err
		}
		return nil
	case errors.Is(err, core.ErrAssociationNotFound):
		return rp.checkAuthentication(ctx, endpoint, msg)
	default:
		return fmt.Errorf("association lookup failed: %w", err)
	}
}

// checkAuthentication asks the provider directly whether it issued the
// response, for assertions bearing handles we do not hold. A provider
// that names an invalidate_handle gets that association evicted.
func (rp *RelyingParty) checkAuthentication(ctx context.Context, endpoint string, msg *message.Message) error {
	form := url.Values{}
	for _, k := range msg.Keys() {
		if k == "mode" {
			continue
		}
		form.Set(message.Prefix+k, msg.Get(k))
	}
	form.Set(message.Prefix+"mode", "check_authentication")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("direct verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := rp.client.Do(req)
	if err != nil {
		return fmt.Errorf("direct verification with %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectResponseBytes))
	if err != nil {
		return fmt.Errorf("direct verification read: %w", err)
	}
	direct, err := message.ParseKeyValue(body)
	if err != nil {
		return fmt.Errorf("direct verification: %w", err)
	}

	if invalidated := direct.Get("invalidate_handle"); invalidated != "" {
		if err := rp.assocs.Invalidate(ctx, endpoint, invalidated); err != nil {
			return fmt.Errorf("failed to invalidate association: %w", err)
		}
	}

	if direct.Get("is_valid") != "true" {
		return core.ErrMacMismatch
	}
	return nil
}

// requireSignedFields enforces the fields the provider must have
// committed to. Anything outside the signed list cannot influence the
// trust decision, so these must be inside it.
func requireSignedFields(msg *message.Message) error {
	fields, err := signature.SignedFields(msg)
	if err != nil {
		return err
	}
	signed := make(map[string]bool, len(fields))
	for _, f := range fields {
		signed[f] = true
	}

	required := []string{"op_endpoint", "return_to", "response_nonce", "assoc_handle"}
	for _, f := range []string{"claimed_id", "identity"} {
		if msg.Has(f) {
			required = append(required, f)
		}
	}
	for _, f := range required {
		if !signed[f] {
			return fmt.Errorf("%w: %q", core.ErrMissingSignedField, f)
		}
	}
	return nil
}

// verifyReturnTo checks the signed return_to against the URL this
// relying party actually serves and the query it actually received.
// Scheme, host and path must match exactly; every query parameter baked
// into the signed return_to must have arrived unchanged.
func verifyReturnTo(requested, signed string, query url.Values) error {
	want, err := url.Parse(requested)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrReturnURLMismatch, err)
	}
	got, err := url.Parse(signed)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrReturnURLMismatch, err)
	}
	if want.Scheme != got.Scheme || want.Host != got.Host || want.Path != got.Path {
		return core.ErrReturnURLMismatch
	}
	for k, vs := range got.Query() {
		if len(vs) == 0 {
			continue
		}
		if query.Get(k) != vs[0] {
			return fmt.Errorf("%w: parameter %q", core.ErrReturnURLMismatch, k)
		}
	}
	return nil
}

func rejectReasonFor(err error) (core.RejectReason, bool) {
	switch {
	case errors.Is(err, core.ErrMacMismatch):
		return core.ReasonMacMismatch, true
	case errors.Is(err, core.ErrMissingSignedField):
		return core.ReasonMissingSignedField, true
	case errors.Is(err, core.ErrMalformedMessage):
		return core.ReasonMalformedMessage, true
	case errors.Is(err, core.ErrAssociationNotFound):
		return core.ReasonAssociationNotFound, true
	default:
		return core.ReasonNone, false
	}
}

// reject produces the single unverified result for this response.
func (rp *RelyingParty) reject(ctx context.Context, reason core.RejectReason, claimedID string) *core.VerificationResult {
	result := &core.VerificationResult{
		Verified:  false,
		ClaimedID: claimedID,
		Reason:    reason,
	}
	rp.publish(ctx, result)
	return result
}

// publish is best effort: event delivery must never flip an
// authentication decision.
func (rp *RelyingParty) publish(ctx context.Context, result *core.VerificationResult) {
	if rp.events == nil {
		return
	}
	_ = rp.events.PublishSignIn(ctx, result)
}
