package webhook

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duespark/collector-api/internal/handler"
	"github.com/duespark/collector-api/internal/model"
	"github.com/duespark/collector-api/internal/reconciler"
	apperrors "github.com/duespark/collector-api/pkg/errors"
	"github.com/duespark/collector-api/pkg/logger"
)

// Handler receives Twilio status callbacks. Twilio posts
// application/x-www-form-urlencoded and expects a 2xx; anything else is
// retried for hours, so processing errors other than malformed input are
// answered 200 after logging.
type Handler struct {
	reconciler *reconciler.Reconciler
	logger     *logger.Logger
}

func NewHandler(rec *reconciler.Reconciler, logger *logger.Logger) *Handler {
	return &Handler{
		reconciler: rec,
		logger:     logger.WithFields(map[string]interface{}{"component": "webhook"}),
	}
}

type smsCallback struct {
	MessageSid    string `form:"MessageSid"`
	MessageStatus string `form:"MessageStatus"`
	ErrorCode     string `form:"ErrorCode"`
	ErrorMessage  string `form:"ErrorMessage"`
}

type voiceCallback struct {
	CallSid    string `form:"CallSid"`
	CallStatus string `form:"CallStatus"`
	ErrorCode  string `form:"ErrorCode"`
}

// SMSStatus handles POST /webhooks/sms/status.
func (h *Handler) SMSStatus(c *gin.Context) {
	var cb smsCallback
	if err := c.ShouldBind(&cb); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("malformed callback"))
		return
	}

	event := &model.DeliveryEvent{
		ProviderRef:  cb.MessageSid,
		RawStatus:    strings.ToLower(cb.MessageStatus),
		Channel:      model.ChannelSMS,
		ErrorCode:    cb.ErrorCode,
		ErrorMessage: cb.ErrorMessage,
	}
	h.apply(c, event)
}

// VoiceStatus handles POST /webhooks/voice/status.
func (h *Handler) VoiceStatus(c *gin.Context) {
	var cb voiceCallback
	if err := c.ShouldBind(&cb); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("malformed callback"))
		return
	}

	event := &model.DeliveryEvent{
		ProviderRef: cb.CallSid,
		RawStatus:   strings.ToLower(cb.CallStatus),
		Channel:     model.ChannelVoice,
		ErrorCode:   cb.ErrorCode,
	}
	h.apply(c, event)
}

func (h *Handler) apply(c *gin.Context, event *model.DeliveryEvent) {
	err := h.reconciler.HandleDeliveryEvent(c.Request.Context(), event)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindBadRequest) {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
		h.logger.Error(err, "failed to reconcile delivery callback",
			"provider_ref", event.ProviderRef, "channel", string(event.Channel))
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
