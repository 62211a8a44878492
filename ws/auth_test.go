package ws

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testNonce = "test-nonce"

type connectFixture struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	id   string
}

func newConnectFixture(t *testing.T) *connectFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hash := sha256.Sum256(pub)
	return &connectFixture{pub: pub, priv: priv, id: hex.EncodeToString(hash[:])}
}

// signedParams builds connect params, applies mutate, then signs the final
// field values so each validation check can be tripped in isolation.
func (f *connectFixture) signedParams(t *testing.T, mutate func(*ConnectParams)) json.RawMessage {
	t.Helper()
	p := ConnectParams{
		MinProtocol: 3,
		MaxProtocol: 3,
		Role:        "operator",
		Client:      &ConnectClient{ID: "relay-test", DisplayName: "Ada", Mode: "ui"},
		Device: &ConnectDevice{
			ID:        f.id,
			PublicKey: base64.RawURLEncoding.EncodeToString(f.pub),
			SignedAt:  time.Now().UnixMilli(),
			Nonce:     testNonce,
		},
	}
	if mutate != nil {
		mutate(&p)
	}
	if p.Device != nil {
		payload := fmt.Sprintf("v2|%s|%s|%s|%s|%s|%d|%s|%s",
			p.Device.ID, safeClientID(p.Client), safeClientMode(p.Client), p.Role,
			"operator.read,operator.write", p.Device.SignedAt, "", p.Device.Nonce)
		sig := ed25519.Sign(f.priv, []byte(payload))
		p.Device.Signature = base64.RawURLEncoding.EncodeToString(sig)
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func TestVerifyConnectAccepts(t *testing.T) {
	f := newConnectFixture(t)

	participantID, displayName, err := VerifyConnect(f.signedParams(t, nil), testNonce)
	require.NoError(t, err)
	require.Equal(t, f.id, participantID)
	require.Equal(t, "Ada", displayName)
}

func TestVerifyConnectRejections(t *testing.T) {
	f := newConnectFixture(t)

	tests := []struct {
		name      string
		mutate    func(*ConnectParams)
		challenge string
		wantErr   string
	}{
		{
			name:      "nonce mismatch",
			challenge: "other-nonce",
			wantErr:   "nonce mismatch",
		},
		{
			name: "stale signature",
			mutate: func(p *ConnectParams) {
				p.Device.SignedAt = time.Now().Add(-10 * time.Minute).UnixMilli()
			},
			challenge: testNonce,
			wantErr:   "signature expired",
		},
		{
			name: "device id not derived from key",
			mutate: func(p *ConnectParams) {
				p.Device.ID = "deadbeef"
			},
			challenge: testNonce,
			wantErr:   "device ID mismatch",
		},
		{
			name: "missing device",
			mutate: func(p *ConnectParams) {
				p.Device = nil
			},
			challenge: testNonce,
			wantErr:   "missing device info",
		},
		{
			name: "garbage public key",
			mutate: func(p *ConnectParams) {
				p.Device.PublicKey = "!!!"
			},
			challenge: testNonce,
			wantErr:   "invalid public key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := VerifyConnect(f.signedParams(t, tt.mutate), tt.challenge)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestVerifyConnectTamperedSignature(t *testing.T) {
	f := newConnectFixture(t)

	raw := f.signedParams(t, nil)
	var p ConnectParams
	require.NoError(t, json.Unmarshal(raw, &p))
	sig := ed25519.Sign(f.priv, []byte("something else entirely"))
	p.Device.Signature = base64.RawURLEncoding.EncodeToString(sig)
	tampered, err := json.Marshal(p)
	require.NoError(t, err)

	_, _, err = VerifyConnect(tampered, testNonce)
	require.ErrorContains(t, err, "invalid signature")
}
