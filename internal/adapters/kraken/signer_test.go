package kraken

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krakenBot/internal/ports"
)

func TestSigner_DocumentedVector(t *testing.T) {
	signer, err := NewSigner("key", "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg==")
	require.NoError(t, err)

	got := signer.Sign(
		"/0/private/AddOrder",
		"nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25",
		1616492376594,
	)
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", got)
}

func TestSigner_DeterministicAndInputSensitive(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("a-very-secret-value"))
	signer, err := NewSigner("key", secret)
	require.NoError(t, err)

	base := signer.Sign("/0/private/Balance", "nonce=1", 1)
	assert.Equal(t, base, signer.Sign("/0/private/Balance", "nonce=1", 1), "same inputs must give same signature")

	assert.NotEqual(t, base, signer.Sign("/0/private/OpenOrders", "nonce=1", 1), "path change")
	assert.NotEqual(t, base, signer.Sign("/0/private/Balance", "nonce=1&x=2", 1), "body change")
	assert.NotEqual(t, base, signer.Sign("/0/private/Balance", "nonce=1", 2), "nonce change")

	other, err := NewSigner("key", base64.StdEncoding.EncodeToString([]byte("another-secret")))
	require.NoError(t, err)
	assert.NotEqual(t, base, other.Sign("/0/private/Balance", "nonce=1", 1), "secret change")
}

func TestNewSigner_Configuration(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		secret string
	}{
		{name: "missing secret", key: "key", secret: ""},
		{name: "missing key", key: "", secret: "c2VjcmV0"},
		{name: "secret not base64", key: "key", secret: "not base64!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.key, tt.secret)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrConfiguration))
			assert.Equal(t, ports.KindConfiguration, ports.KindOf(err))
		})
	}
}

func TestSigner_Wipe(t *testing.T) {
	signer, err := NewSigner("key", base64.StdEncoding.EncodeToString([]byte("secret")))
	require.NoError(t, err)
	signer.Wipe()
	for _, b := range signer.secret {
		assert.Zero(t, b)
	}

	var nilSigner *Signer
	assert.NotPanics(t, func() { nilSigner.Wipe() })
}

func TestNonceSource_ClockGoingBackwards(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(5000),
		time.UnixMilli(5000),
		time.UnixMilli(4000), // clock stepped back
		time.UnixMilli(7000),
	}
	i := 0
	src := NewNonceSource(func() time.Time {
		tm := times[i]
		i++
		return tm
	})

	assert.Equal(t, int64(5000), src.Next())
	assert.Equal(t, int64(5001), src.Next())
	assert.Equal(t, int64(5002), src.Next())
	assert.Equal(t, int64(7000), src.Next())
	assert.Equal(t, int64(7000), src.Last())
}

func TestNonceSource_Raise(t *testing.T) {
	src := NewNonceSource(func() time.Time { return time.UnixMilli(1000) })
	src.Raise(50_000)
	assert.Equal(t, int64(50_001), src.Next())

	src.Raise(10) // lower floors are ignored
	assert.Equal(t, int64(50_002), src.Next())
}

func TestNonceSource_ConcurrentCallersNeverCollide(t *testing.T) {
	src := NewNonceSource(func() time.Time { return time.UnixMilli(1000) })

	const workers, perWorker = 8, 200
	results := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			for i := 0; i < perWorker; i++ {
				n := src.Next()
				if n <= last {
					t.Errorf("nonce went backwards within one goroutine: %d after %d", n, last)
				}
				last = n
				results <- n
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, workers*perWorker)
	for n := range results {
		require.False(t, seen[n], "duplicate nonce %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
