package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/reconciler"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
	"github.com/duespark/collector-api/pkg/metrics"
)

type stubReminderRepo struct {
	byRef map[string]*model.ReminderInstance
}

func (s *stubReminderRepo) Insert(_ context.Context, _ *model.ReminderInstance) error {
	return nil
}

func (s *stubReminderRepo) Get(_ context.Context, _ uuid.UUID) (*model.ReminderInstance, error) {
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *stubReminderRepo) ListByInvoice(_ context.Context, _ uuid.UUID) ([]*model.ReminderInstance, error) {
	return nil, nil
}

func (s *stubReminderRepo) ListDue(_ context.Context, _ time.Time, _ int) ([]*model.ReminderInstance, error) {
	return nil, nil
}

func (s *stubReminderRepo) GetByProviderRef(_ context.Context, ref string) (*model.ReminderInstance, error) {
	if r, ok := s.byRef[ref]; ok {
		return r, nil
	}
	return nil, apperrors.NotFound("reminder not found", nil)
}

func (s *stubReminderRepo) MarkDispatched(_ context.Context, _ uuid.UUID, _ model.ReminderStatus, _ model.Channel, _ string, _ time.Time) error {
	return nil
}

func (s *stubReminderRepo) MarkSkipped(_ context.Context, _ uuid.UUID, _ *model.Outcome) error {
	return nil
}

func (s *stubReminderRepo) MarkFailed(_ context.Context, _ uuid.UUID, _ *model.Outcome) error {
	return nil
}

func (s *stubReminderRepo) RescheduleAfterRejection(_ context.Context, _ uuid.UUID, _ time.Time, _ *model.Outcome, _ time.Time) error {
	return nil
}

func (s *stubReminderRepo) UpdateDeliveryStatus(_ context.Context, id uuid.UUID, status model.ReminderStatus, outcome *model.Outcome, _ time.Time) error {
	for _, r := range s.byRef {
		if r.ID == id {
			r.Status = status
			if outcome != nil {
				r.Outcome = outcome.Marshal()
			}
			return nil
		}
	}
	return apperrors.NotFound("reminder not found", nil)
}

func setupWebhookRouter(repo *stubReminderRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(nil)
	rec := reconciler.NewReconciler(repo, nil, log, metrics.New("test"))
	h := NewHandler(rec, log)

	engine := gin.New()
	engine.POST("/webhooks/sms/status", h.SMSStatus)
	engine.POST("/webhooks/voice/status", h.VoiceStatus)
	return engine
}

func postForm(t *testing.T, engine *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSMSStatusCallbackCompletesReminder(t *testing.T) {
	ref := "SM123"
	channel := model.ChannelSMS
	repo := &stubReminderRepo{byRef: map[string]*model.ReminderInstance{
		ref: {Base: model.Base{ID: uuid.New()}, Status: model.ReminderStatusQueued, Channel: &channel, ProviderRef: &ref},
	}}
	engine := setupWebhookRouter(repo)

	w := postForm(t, engine, "/webhooks/sms/status", url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"delivered"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ReminderStatusCompleted, repo.byRef[ref].Status)
}

func TestSMSStatusCallbackUppercaseStatusNormalized(t *testing.T) {
	ref := "SM123"
	channel := model.ChannelSMS
	repo := &stubReminderRepo{byRef: map[string]*model.ReminderInstance{
		ref: {Base: model.Base{ID: uuid.New()}, Status: model.ReminderStatusQueued, Channel: &channel, ProviderRef: &ref},
	}}
	engine := setupWebhookRouter(repo)

	w := postForm(t, engine, "/webhooks/sms/status", url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"Delivered"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ReminderStatusCompleted, repo.byRef[ref].Status)
}

func TestVoiceStatusCallbackFailure(t *testing.T) {
	ref := "CA456"
	channel := model.ChannelVoice
	repo := &stubReminderRepo{byRef: map[string]*model.ReminderInstance{
		ref: {Base: model.Base{ID: uuid.New()}, Status: model.ReminderStatusInProgress, Channel: &channel, ProviderRef: &ref},
	}}
	engine := setupWebhookRouter(repo)

	w := postForm(t, engine, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CA456"},
		"CallStatus": {"busy"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ReminderStatusFailed, repo.byRef[ref].Status)
	require.NotEmpty(t, repo.byRef[ref].Outcome)
}

func TestCallbackMissingRefRejected(t *testing.T) {
	engine := setupWebhookRouter(&stubReminderRepo{byRef: map[string]*model.ReminderInstance{}})

	w := postForm(t, engine, "/webhooks/sms/status", url.Values{
		"MessageStatus": {"delivered"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackOrphanRefAnsweredOK(t *testing.T) {
	engine := setupWebhookRouter(&stubReminderRepo{byRef: map[string]*model.ReminderInstance{}})

	// The provider must not retry callbacks we deliberately drop.
	w := postForm(t, engine, "/webhooks/sms/status", url.Values{
		"MessageSid":    {"SM999"},
		"MessageStatus": {"delivered"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
}
