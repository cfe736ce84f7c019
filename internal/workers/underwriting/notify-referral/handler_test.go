package notifyreferral

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/underwriting/notify"
)

// ==========================
// Mock Implementations
// ==========================

type MockReferralSender struct {
	SendFunc func(ctx context.Context, referral *notify.Referral) ([]string, error)
	calls    int
}

func (m *MockReferralSender) Send(ctx context.Context, referral *notify.Referral) ([]string, error) {
	m.calls++
	if m.SendFunc != nil {
		return m.SendFunc(ctx, referral)
	}
	return []string{"email"}, nil
}

// ==========================
// Test Helper Functions
// ==========================

func newTestHandler(t *testing.T, sender ReferralSender) *Handler {
	t.Helper()
	cfg := &Config{Timeout: 5 * time.Second}
	return NewHandler(cfg, sender, logger.NewZapAdapter(zaptest.NewLogger(t)))
}

func createTestInput() *Input {
	return &Input{
		EvaluationID:  "eval-123",
		CarrierName:   "Acme Life",
		ProductName:   "Term 20",
		Eligibility:   "refer",
		Reasons:       []string{"COPD requires review"},
		Concerns:      []string{"Recent hospitalization"},
		MissingFields: []string{"copd.fev1"},
	}
}

// ==========================
// Execute Tests
// ==========================

func TestExecute_MissingEvaluationID(t *testing.T) {
	sender := &MockReferralSender{}
	handler := newTestHandler(t, sender)

	tests := []struct {
		name  string
		input *Input
	}{
		{name: "nil input", input: nil},
		{name: "empty evaluation id", input: &Input{CarrierName: "Acme Life"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := handler.Execute(context.Background(), tt.input)

			require.Error(t, err)
			assert.Nil(t, output)
			assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeInvalidInput))
		})
	}
	assert.Equal(t, 0, sender.calls)
}

func TestExecute_Success(t *testing.T) {
	sender := &MockReferralSender{
		SendFunc: func(ctx context.Context, referral *notify.Referral) ([]string, error) {
			assert.Equal(t, "eval-123", referral.EvaluationID)
			assert.Equal(t, "Acme Life", referral.CarrierName)
			assert.Equal(t, "refer", referral.Eligibility)
			assert.Equal(t, []string{"copd.fev1"}, referral.MissingFields)
			return []string{"email", "sms"}, nil
		},
	}
	handler := newTestHandler(t, sender)

	output, err := handler.Execute(context.Background(), createTestInput())

	require.NoError(t, err)
	require.NotNil(t, output)
	assert.NotEmpty(t, output.NotificationID)
	assert.Equal(t, []string{"email", "sms"}, output.Channels)

	sentAt, parseErr := time.Parse(time.RFC3339, output.SentAt)
	require.NoError(t, parseErr)
	assert.WithinDuration(t, time.Now().UTC(), sentAt, time.Minute)
}

func TestExecute_SendErrorPropagates(t *testing.T) {
	sender := &MockReferralSender{
		SendFunc: func(ctx context.Context, referral *notify.Referral) ([]string, error) {
			return nil, commonerrors.NewNotificationSendFailedError("email", errors.New("ses throttled"))
		},
	}
	handler := newTestHandler(t, sender)

	output, err := handler.Execute(context.Background(), createTestInput())

	require.Error(t, err)
	assert.Nil(t, output)
	assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeNotificationSendFailed))
}

func TestExecute_UniqueNotificationIDs(t *testing.T) {
	handler := newTestHandler(t, &MockReferralSender{})

	first, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)
	second, err := handler.Execute(context.Background(), createTestInput())
	require.NoError(t, err)

	assert.NotEqual(t, first.NotificationID, second.NotificationID)
}
