package assoc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/message"
)

// fakeOP answers associate requests the way a provider would, deriving
// the enc_mac_key mask from the consumer's DH public value.
type fakeOP struct {
	t      *testing.T
	macKey []byte
}

func (op *fakeOP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	require.NoError(op.t, r.ParseForm())
	require.Equal(op.t, "associate", r.PostFormValue("openid.mode"))

	assocType := core.AssocType(r.PostFormValue("openid.assoc_type"))
	sessionType := r.PostFormValue("openid.session_type")

	resp := message.New()
	resp.Set("ns", message.Namespace)
	resp.Set("assoc_handle", "h-fake-op")
	resp.Set("session_type", sessionType)
	resp.Set("assoc_type", string(assocType))
	resp.Set("expires_in", "3600")

	if sessionType == SessionNoEncryption {
		resp.Set("mac_key", base64.StdEncoding.EncodeToString(op.macKey))
	} else {
		consumerRaw, err := base64.StdEncoding.DecodeString(r.PostFormValue("openid.dh_consumer_public"))
		require.NoError(op.t, err)
		consumerPublic, err := fromBtwoc(consumerRaw)
		require.NoError(op.t, err)

		y, err := rand.Int(rand.Reader, defaultModulus)
		require.NoError(op.t, err)
		serverPublic := new(big.Int).Exp(defaultGen, y, defaultModulus)
		shared := new(big.Int).Exp(consumerPublic, y, defaultModulus)

		h := assocType.Hash()()
		h.Write(btwoc(shared))
		digest := h.Sum(nil)
		require.Len(op.t, op.macKey, len(digest))

		enc := make([]byte, len(digest))
		for i := range digest {
			enc[i] = digest[i] ^ op.macKey[i]
		}
		resp.Set("dh_server_public", base64.StdEncoding.EncodeToString(btwoc(serverPublic)))
		resp.Set("enc_mac_key", base64.StdEncoding.EncodeToString(enc))
	}

	w.Write(resp.EncodeKeyValue())
}

func TestEstablishDH(t *testing.T) {
	tests := []struct {
		assocType core.AssocType
		keyLen    int
	}{
		{core.AssocHMACSHA1, 20},
		{core.AssocHMACSHA256, 32},
	}

	for _, tt := range tests {
		t.Run(string(tt.assocType), func(t *testing.T) {
			macKey := make([]byte, tt.keyLen)
			_, err := rand.Read(macKey)
			require.NoError(t, err)

			srv := httptest.NewServer(&fakeOP{t: t, macKey: macKey})
			defer srv.Close()

			assoc, err := Establish(context.Background(), srv.Client(), srv.URL, tt.assocType)
			require.NoError(t, err)

			assert.Equal(t, macKey, assoc.Secret, "DH unmasking must recover the provider's MAC key")
			assert.Equal(t, "h-fake-op", assoc.Handle)
			assert.Equal(t, tt.assocType, assoc.Type)
			assert.False(t, assoc.Expired(time.Now()))
		})
	}
}

func TestEstablishRetriesWithSuggestedTypes(t *testing.T) {
	macKey := make([]byte, 32)
	_, err := rand.Read(macKey)
	require.NoError(t, err)

	op := &fakeOP{t: t, macKey: macKey}
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("openid.session_type") != SessionNoEncryption {
			resp := message.New()
			resp.Set("ns", message.Namespace)
			resp.Set("error", "DH sessions not supported")
			resp.Set("error_code", "unsupported-type")
			resp.Set("assoc_type", string(core.AssocHMACSHA256))
			resp.Set("session_type", SessionNoEncryption)
			w.Write(resp.EncodeKeyValue())
			return
		}
		op.ServeHTTP(w, r)
	}))
	defer srv.Close()

	assoc, err := Establish(context.Background(), srv.Client(), srv.URL, core.AssocHMACSHA256)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, macKey, assoc.Secret)
}

func TestEstablishProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := message.New()
		resp.Set("ns", message.Namespace)
		resp.Set("error", "no associations today")
		w.Write(resp.EncodeKeyValue())
	}))
	defer srv.Close()

	_, err := Establish(context.Background(), srv.Client(), srv.URL, core.AssocHMACSHA256)

	var assocErr *core.AssociationError
	require.ErrorAs(t, err, &assocErr)
	assert.Equal(t, core.AssociationProtocolMismatch, assocErr.Reason)
}

func TestEstablishTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	// Unblock the handler before srv.Close waits on it (defers run LIFO).
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Establish(ctx, srv.Client(), srv.URL, core.AssocHMACSHA256)

	var assocErr *core.AssociationError
	require.ErrorAs(t, err, &assocErr)
	assert.Equal(t, core.AssociationTimeout, assocErr.Reason)
}

func TestEstablishUnreachable(t *testing.T) {
	_, err := Establish(context.Background(), &http.Client{}, "http://127.0.0.1:1/openid", core.AssocHMACSHA256)

	var assocErr *core.AssociationError
	require.ErrorAs(t, err, &assocErr)
	assert.Equal(t, core.AssociationUnreachable, assocErr.Reason)
}

func TestBtwoc(t *testing.T) {
	assert.Equal(t, []byte{0}, btwoc(big.NewInt(0)))
	assert.Equal(t, []byte{0x7f}, btwoc(big.NewInt(0x7f)))
	// High bit set needs a leading zero to stay positive.
	assert.Equal(t, []byte{0x00, 0x80}, btwoc(big.NewInt(0x80)))

	back, err := fromBtwoc([]byte{0x00, 0x80})
	require.NoError(t, err)
	assert.Equal(t, int64(0x80), back.Int64())

	_, err = fromBtwoc(nil)
	assert.Error(t, err)
	_, err = fromBtwoc([]byte{0x80})
	assert.Error(t, err, "negative values are not valid btwoc")
}
