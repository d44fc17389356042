// Package assoc establishes shared-secret associations with OpenID 2.0
// providers, using the Diffie-Hellman session types so the MAC key never
// crosses the wire in the clear.
package assoc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/message"
)

// Session types for the associate exchange.
const (
	SessionDHSHA1       = "DH-SHA1"
	SessionDHSHA256     = "DH-SHA256"
	SessionNoEncryption = "no-encryption"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 64 << 10

// Establish negotiates an association with the provider endpoint. The
// session type follows the association type (DH-SHA1 for HMAC-SHA1,
// DH-SHA256 for HMAC-SHA256). When the provider answers unsupported-type
// and suggests an alternative, the exchange is retried once with the
// suggestion. Cancellation and timeouts arrive through ctx; a cancelled
// exchange yields nothing to cache.
func Establish(ctx context.Context, client *http.Client, endpoint string, assocType core.AssocType) (*core.Association, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if !assocType.Valid() {
		assocType = core.AssocHMACSHA256
	}

	assoc, retryWith, err := exchange(ctx, client, endpoint, assocType, sessionFor(assocType))
	if err == nil {
		return assoc, nil
	}
	if retryWith == nil {
		return nil, err
	}
	assoc, _, err = exchange(ctx, client, endpoint, retryWith.assocType, retryWith.sessionType)
	return assoc, err
}

// retryHint carries the provider-suggested types after unsupported-type.
type retryHint struct {
	assocType   core.AssocType
	sessionType string
}

func sessionFor(t core.AssocType) string {
	if t == core.AssocHMACSHA1 {
		return SessionDHSHA1
	}
	return SessionDHSHA256
}

func exchange(ctx context.Context, client *http.Client, endpoint string, assocType core.AssocType, sessionType string) (*core.Association, *retryHint, error) {
	req := message.New()
	req.Set("ns", message.Namespace)
	req.Set("mode", "associate")
	req.Set("assoc_type", string(assocType))
	req.Set("session_type", sessionType)

	var key *dhKey
	if sessionType != SessionNoEncryption {
		var err error
		key, err = generateKey()
		if err != nil {
			return nil, nil, err
		}
		req.Set("dh_modulus", base64.StdEncoding.EncodeToString(btwoc(defaultModulus)))
		req.Set("dh_gen", base64.StdEncoding.EncodeToString(btwoc(defaultGen)))
		req.Set("dh_consumer_public", base64.StdEncoding.EncodeToString(btwoc(key.public)))
	}

	resp, err := post(ctx, client, endpoint, req.EncodeValues())
	if err != nil {
		return nil, nil, err
	}

	if resp.Has("error") {
		if resp.Get("error_code") == "unsupported-type" {
			hint := suggestedTypes(resp)
			return nil, hint, &core.AssociationError{
				Endpoint: endpoint,
				Reason:   core.AssociationProtocolMismatch,
				Err:      fmt.Errorf("provider rejected %s/%s: %s", assocType, sessionType, resp.Get("error")),
			}
		}
		return nil, nil, &core.AssociationError{
			Endpoint: endpoint,
			Reason:   core.AssociationProtocolMismatch,
			Err:      fmt.Errorf("provider error: %s", resp.Get("error")),
		}
	}

	assoc, err := buildAssociation(endpoint, assocType, sessionType, key, resp)
	if err != nil {
		return nil, nil, &core.AssociationError{Endpoint: endpoint, Reason: core.AssociationProtocolMismatch, Err: err}
	}
	return assoc, nil, nil
}

// suggestedTypes extracts a usable retry hint from an unsupported-type
// answer, or nil when the provider suggested nothing we support.
func suggestedTypes(resp *message.Message) *retryHint {
	at := core.AssocType(resp.Get("assoc_type"))
	st := resp.Get("session_type")
	if !at.Valid() {
		return nil
	}
	switch st {
	case SessionDHSHA1, SessionDHSHA256, SessionNoEncryption:
		return &retryHint{assocType: at, sessionType: st}
	default:
		return nil
	}
}

func post(ctx context.Context, client *http.Client, endpoint string, form url.Values) (*message.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &core.AssociationError{Endpoint: endpoint, Reason: core.AssociationUnreachable, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, &core.AssociationError{Endpoint: endpoint, Reason: transportReason(err), Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &core.AssociationError{Endpoint: endpoint, Reason: transportReason(err), Err: err}
	}

	resp, err := message.ParseKeyValue(body)
	if err != nil {
		return nil, &core.AssociationError{Endpoint: endpoint, Reason: core.AssociationProtocolMismatch, Err: err}
	}
	return resp, nil
}

func transportReason(err error) core.AssociationErrorReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.AssociationTimeout
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return core.AssociationTimeout
	}
	return core.AssociationUnreachable
}

func buildAssociation(endpoint string, assocType core.AssocType, sessionType string, key *dhKey, resp *message.Message) (*core.Association, error) {
	if got := resp.Get("assoc_type"); got != string(assocType) {
		return nil, fmt.Errorf("assoc_type %q, want %q", got, assocType)
	}
	handle := resp.Get("assoc_handle")
	if handle == "" {
		return nil, fmt.Errorf("missing assoc_handle")
	}
	expiresIn, err := strconv.Atoi(resp.Get("expires_in"))
	if err != nil || expiresIn <= 0 {
		return nil, fmt.Errorf("bad expires_in %q", resp.Get("expires_in"))
	}

	var secret []byte
	if sessionType == SessionNoEncryption {
		secret, err = base64.StdEncoding.DecodeString(resp.Get("mac_key"))
		if err != nil {
			return nil, fmt.Errorf("bad mac_key: %w", err)
		}
	} else {
		serverPublicRaw, err := base64.StdEncoding.DecodeString(resp.Get("dh_server_public"))
		if err != nil {
			return nil, fmt.Errorf("bad dh_server_public: %w", err)
		}
		serverPublic, err := fromBtwoc(serverPublicRaw)
		if err != nil {
			return nil, fmt.Errorf("bad dh_server_public: %w", err)
		}
		encMacKey, err := base64.StdEncoding.DecodeString(resp.Get("enc_mac_key"))
		if err != nil {
			return nil, fmt.Errorf("bad enc_mac_key: %w", err)
		}
		secret, err = unmaskSecret(serverPublic, key, assocType.Hash(), encMacKey)
		if err != nil {
			return nil, err
		}
	}
	if len(secret) != assocType.SecretSize() {
		return nil, fmt.Errorf("MAC key length %d, want %d", len(secret), assocType.SecretSize())
	}

	now := time.Now()
	return &core.Association{
		Endpoint:  endpoint,
		Handle:    handle,
		Secret:    secret,
		Type:      assocType,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
