package inMemoryRequestSigner

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
	"github.com/jeremyschied/kalshi-proxi/pkg/testutil"
)

func Test_InMemoryRequestSigner(t *testing.T) {
	ctx := context.Background()
	message := []byte("1700000000000GET/trade-api/v2/portfolio/balance")

	t.Run("Should produce deterministic PKCS1v15 signatures that verify", func(t *testing.T) {
		ks, key := testutil.NewRSAKeyStore(t, requestSigner.AlgorithmRSAPKCS1v15SHA256)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		first, err := signer.Sign(ctx, message)
		require.NoError(t, err)
		second, err := signer.Sign(ctx, message)
		require.NoError(t, err)

		// PKCS#1 v1.5 is deterministic, the same message signs identically
		assert.Equal(t, first, second)

		digest := sha256.Sum256(message)
		assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], first))

		tampered := sha256.Sum256([]byte("1700000000001GET/trade-api/v2/portfolio/balance"))
		assert.Error(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, tampered[:], first))
	})

	t.Run("Should produce salted PSS signatures that verify", func(t *testing.T) {
		ks, key := testutil.NewRSAKeyStore(t, requestSigner.AlgorithmRSAPSSSHA256)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		first, err := signer.Sign(ctx, message)
		require.NoError(t, err)
		second, err := signer.Sign(ctx, message)
		require.NoError(t, err)

		// The random salt makes every PSS signature distinct
		assert.NotEqual(t, first, second)

		digest := sha256.Sum256(message)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], first, opts))
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], second, opts))

		tampered := sha256.Sum256([]byte("tampered"))
		assert.Error(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, tampered[:], first, opts))
	})

	t.Run("Should produce deterministic Ed25519 signatures over the raw message", func(t *testing.T) {
		ks, key := testutil.NewEd25519KeyStore(t)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		first, err := signer.Sign(ctx, message)
		require.NoError(t, err)
		second, err := signer.Sign(ctx, message)
		require.NoError(t, err)

		assert.Equal(t, first, second)

		pub := key.Public().(ed25519.PublicKey)
		assert.True(t, ed25519.Verify(pub, message, first))
		assert.False(t, ed25519.Verify(pub, []byte("tampered"), first))
	})

	t.Run("Should fail when no credential is configured", func(t *testing.T) {
		ks := testutil.NewUnconfiguredKeyStore(t, requestSigner.AlgorithmRSAPSSSHA256)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		_, err := signer.Sign(ctx, message)
		assert.ErrorIs(t, err, keystore.ErrKeyNotConfigured)
	})

	t.Run("Should propagate key type mismatches", func(t *testing.T) {
		// RSA key material paired with the ed25519 algorithm
		ks, _ := testutil.NewRSAKeyStore(t, requestSigner.AlgorithmEd25519)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		_, err := signer.Sign(ctx, message)
		assert.ErrorIs(t, err, keystore.ErrKeyTypeMismatch)
	})

	t.Run("Should report algorithm and key ID from configuration", func(t *testing.T) {
		ks, _ := testutil.NewRSAKeyStore(t, requestSigner.AlgorithmRSAPSSSHA256)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		assert.Equal(t, requestSigner.AlgorithmRSAPSSSHA256, signer.Algorithm())
		assert.Equal(t, testutil.TestKeyID, signer.KeyID())
	})

	t.Run("Should expose the public half of the credential", func(t *testing.T) {
		ks, key := testutil.NewRSAKeyStore(t, requestSigner.AlgorithmRSAPSSSHA256)
		signer := NewInMemoryRequestSigner(ks, zap.NewNop())

		pub, err := signer.PublicKey(ctx)
		require.NoError(t, err)

		rsaPub, ok := pub.(*rsa.PublicKey)
		require.True(t, ok)
		assert.True(t, rsaPub.Equal(&key.PublicKey))
	})
}
