package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/config"
)

func signedHeader(secret string, ts time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestClient(t *testing.T, secret string, toleranceSeconds int) Gateway {
	t.Helper()
	billing := config.DefaultBillingConfig()
	billing.SignatureToleranceSeconds = toleranceSeconds
	return NewClient(
		config.Config{StripeAPIKey: "sk_test_123", StripeWebhookSecret: secret},
		config.NewStaticBillingConfigHolder(billing),
		zap.NewNop(),
	)
}

func TestVerifySignatureHonorsConfiguredTolerance(t *testing.T) {
	payload := []byte(`{"id": "evt_001", "type": "invoice.paid"}`)
	aged := time.Now().Add(-10 * time.Minute)
	header := signedHeader("whsec_test", aged, payload)

	generous := newTestClient(t, "whsec_test", 3600)
	assert.NoError(t, generous.VerifySignature(payload, header))

	strict := newTestClient(t, "whsec_test", 60)
	err := strict.VerifySignature(payload, header)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id": "evt_001", "type": "invoice.paid"}`)
	header := signedHeader("whsec_other", time.Now(), payload)

	c := newTestClient(t, "whsec_test", 300)
	assert.ErrorIs(t, c.VerifySignature(payload, header), ErrSignatureInvalid)
}

func TestVerifySignatureSkippedWithoutSecret(t *testing.T) {
	c := newTestClient(t, "", 300)
	assert.NoError(t, c.VerifySignature([]byte(`{}`), "t=1,v1=bogus"))
}
