package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/controllers"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/middleware"
)

// RegisterCheckoutRoutes mounts the verification endpoints at /verify on parent.
func RegisterCheckoutRoutes(parent gin.IRouter, vc *controllers.VerifyController, sessionCookie string) {
	verify := parent.Group("/verify")
	verify.Use(middleware.SessionToken(sessionCookie))
	{
		verify.POST("", vc.VerifyPayment)
		verify.GET("", vc.GetVerification)
	}
}
