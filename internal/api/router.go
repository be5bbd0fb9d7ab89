package api

import "github.com/gin-gonic/gin"

func Markets(api *gin.RouterGroup, h *Market) {
	markets := api.Group("/markets")
	{
		markets.POST("", h.Add)
		markets.GET("", h.List)
		markets.POST("/:market/orders", h.PlaceOrder)
		markets.GET("/:market/depth", h.Depth)
	}
}
