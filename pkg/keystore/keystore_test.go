package keystore

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// Local key fixtures; pkg/testutil depends on this package, so tests here
// build their own PEM material.
func rsaPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func rsaPKCS8PEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})
	return key, string(pemBytes)
}

func ed25519PEM(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})
	return key, string(pemBytes)
}

func Test_KeyStore(t *testing.T) {
	t.Run("Should load a PKCS#1 RSA key from raw PEM", func(t *testing.T) {
		key, pemText := rsaPEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		assert.True(t, ks.Configured())

		cred, err := ks.Load()
		require.NoError(t, err)
		require.NotNil(t, cred)

		assert.Equal(t, "test-key-id", cred.KeyID)
		assert.Equal(t, requestSigner.AlgorithmRSAPSSSHA256, cred.Algorithm)

		loaded, ok := cred.PrivateKey.(*rsa.PrivateKey)
		require.True(t, ok)
		assert.True(t, loaded.Equal(key))
	})

	t.Run("Should load a PKCS#8 RSA key", func(t *testing.T) {
		key, pemText := rsaPKCS8PEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPKCS1v15SHA256, zap.NewNop())

		cred, err := ks.Load()
		require.NoError(t, err)

		loaded, ok := cred.PrivateKey.(*rsa.PrivateKey)
		require.True(t, ok)
		assert.True(t, loaded.Equal(key))
	})

	t.Run("Should load an Ed25519 key", func(t *testing.T) {
		key, pemText := ed25519PEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmEd25519, zap.NewNop())

		cred, err := ks.Load()
		require.NoError(t, err)

		loaded, ok := cred.PrivateKey.(ed25519.PrivateKey)
		require.True(t, ok)
		assert.True(t, loaded.Equal(key))
	})

	t.Run("Should load from a base64 source", func(t *testing.T) {
		key, pemText := rsaPEM(t)
		encoded := base64.StdEncoding.EncodeToString([]byte(pemText))
		ks := NewKeyStore("test-key-id", Source{Base64PEM: encoded}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		cred, err := ks.Load()
		require.NoError(t, err)
		assert.True(t, cred.PrivateKey.(*rsa.PrivateKey).Equal(key))
	})

	t.Run("Should load from a file source", func(t *testing.T) {
		key, pemText := rsaPEM(t)
		path := filepath.Join(t.TempDir(), "private_key.pem")
		require.NoError(t, os.WriteFile(path, []byte(pemText), 0o600))

		ks := NewKeyStore("test-key-id", Source{FilePath: path}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		cred, err := ks.Load()
		require.NoError(t, err)
		assert.True(t, cred.PrivateKey.(*rsa.PrivateKey).Equal(key))
	})

	t.Run("Should prefer raw PEM over the other sources", func(t *testing.T) {
		key, pemText := rsaPEM(t)
		ks := NewKeyStore("test-key-id", Source{
			RawPEM:    pemText,
			Base64PEM: "not even base64!",
			FilePath:  "/does/not/exist.pem",
		}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		cred, err := ks.Load()
		require.NoError(t, err)
		assert.True(t, cred.PrivateKey.(*rsa.PrivateKey).Equal(key))
	})

	t.Run("Should report not configured without a key source", func(t *testing.T) {
		ks := NewKeyStore("test-key-id", Source{}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		assert.False(t, ks.Configured())

		cred, err := ks.Load()
		assert.Nil(t, cred)
		assert.ErrorIs(t, err, ErrKeyNotConfigured)
	})

	t.Run("Should report not configured without a key ID", func(t *testing.T) {
		_, pemText := rsaPEM(t)
		ks := NewKeyStore("", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		assert.False(t, ks.Configured())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyNotConfigured)
	})

	t.Run("Should fail on garbage PEM", func(t *testing.T) {
		ks := NewKeyStore("test-key-id", Source{RawPEM: "this is not a key"}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyParse)
	})

	t.Run("Should fail on a PEM block that is not a private key", func(t *testing.T) {
		block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x01, 0x02, 0x03}})
		ks := NewKeyStore("test-key-id", Source{RawPEM: string(block)}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyParse)
	})

	t.Run("Should fail on invalid base64", func(t *testing.T) {
		ks := NewKeyStore("test-key-id", Source{Base64PEM: "%%%"}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyParse)
	})

	t.Run("Should fail on a missing key file", func(t *testing.T) {
		ks := NewKeyStore("test-key-id", Source{FilePath: filepath.Join(t.TempDir(), "missing.pem")}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyParse)
	})

	t.Run("Should reject an RSA key for the ed25519 algorithm", func(t *testing.T) {
		_, pemText := rsaPEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmEd25519, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyTypeMismatch)
	})

	t.Run("Should reject an Ed25519 key for an RSA algorithm", func(t *testing.T) {
		_, pemText := ed25519PEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPKCS1v15SHA256, zap.NewNop())

		_, err := ks.Load()
		assert.ErrorIs(t, err, ErrKeyTypeMismatch)
	})

	t.Run("Should reject an unsupported key type", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, err = ks.Load()
		assert.ErrorIs(t, err, ErrKeyTypeMismatch)
	})

	t.Run("Should cache the credential across loads", func(t *testing.T) {
		_, pemText := rsaPEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		first, err := ks.Load()
		require.NoError(t, err)
		second, err := ks.Load()
		require.NoError(t, err)

		assert.Same(t, first, second)
	})

	t.Run("Should cache failures as well", func(t *testing.T) {
		ks := NewKeyStore("test-key-id", Source{RawPEM: "garbage"}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		_, firstErr := ks.Load()
		_, secondErr := ks.Load()

		assert.ErrorIs(t, firstErr, ErrKeyParse)
		assert.Equal(t, firstErr, secondErr)
	})

	t.Run("Should share one load across concurrent callers", func(t *testing.T) {
		_, pemText := rsaPEM(t)
		ks := NewKeyStore("test-key-id", Source{RawPEM: pemText}, requestSigner.AlgorithmRSAPSSSHA256, zap.NewNop())

		const callers = 10
		creds := make([]*Credential, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				creds[idx], errs[idx] = ks.Load()
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Same(t, creds[0], creds[i])
		}
	})
}
