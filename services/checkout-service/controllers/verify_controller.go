package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/middleware"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/services"
	apperrors "github.com/yashrajoria/marketplace-backend/services/common/errors"
	"github.com/yashrajoria/marketplace-backend/services/common/logger"
)

type VerifyRequest struct {
	Reference string `json:"reference"`
}

type VerifyController struct {
	service services.VerificationService
	logger  *zap.Logger
}

func NewVerifyController(service services.VerificationService, logger *zap.Logger) *VerifyController {
	return &VerifyController{service: service, logger: logger}
}

// VerifyPayment handles the buyer's return from the payment page and creates
// the order or applies the subscription.
func (vc *VerifyController) VerifyPayment(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Body(services.ErrMissingReference.Code, "Invalid JSON body"))
		return
	}
	vc.respond(c, services.VerifyRequest{
		Reference: req.Reference,
		Token:     middleware.GetSessionToken(c),
		Mode:      services.ModeFulfill,
	})
}

// GetVerification reports the state of a reference for polling clients.
func (vc *VerifyController) GetVerification(c *gin.Context) {
	vc.respond(c, services.VerifyRequest{
		Reference: c.Query("reference"),
		Token:     middleware.GetSessionToken(c),
		Mode:      services.ModePoll,
	})
}

func (vc *VerifyController) respond(c *gin.Context, req services.VerifyRequest) {
	result, svcErr := vc.service.Verify(c.Request.Context(), req)
	if svcErr != nil {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			logger.For(c.Request.Context(), vc.logger).Error("Verification failed",
				zap.String("reference", req.Reference),
				zap.String("code", svcErr.Code),
				zap.Error(svcErr))
		}
		c.JSON(svcErr.StatusCode, errorBody(svcErr))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": result})
}

func errorBody(err *services.ServiceError) gin.H {
	body := apperrors.Body(err.Code, err.Message)
	if err.Reference != "" {
		body["reference"] = err.Reference
	}
	if len(err.Details) > 0 {
		body["details"] = err.Details
	}
	return body
}
