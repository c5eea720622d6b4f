package handlers

import (
	"net/http"

	"github.com/Coworker2000/acr/models"
	"github.com/labstack/echo/v4"
)

// 套餐目录目前是静态的，选中的套餐以快照形式存进会话
type PlanHandler struct {
	plans []models.PlanSnapshot
}

func NewPlanHandler() *PlanHandler {
	return &PlanHandler{
		plans: []models.PlanSnapshot{
			{
				PlanID:        "super-sale",
				Title:         "Super Sale",
				Subtitle:      "Results in as little as 20-30 days!",
				Price:         "$399",
				OriginalPrice: "$599",
			},
			{
				PlanID:        "super-sale-payment",
				Title:         "Super Sale - Payment Plan",
				Subtitle:      "Results in as little as 15-30 days!",
				Price:         "$499",
				OriginalPrice: "$799",
			},
			{
				PlanID:        "vip-fast-track",
				Title:         "VIP Fast Track Program",
				Subtitle:      "Results in as little as 7-15 days!",
				Price:         "$750",
				OriginalPrice: "$1500",
			},
			{
				PlanID:        "instant-tradeline",
				Title:         "$2500 Instant Tradeline",
				Subtitle:      "Boost your credit profile instantly!",
				Price:         "$1500",
				OriginalPrice: "$3,000",
			},
		},
	}
}

func (h *PlanHandler) GetPlans(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"plans": h.plans,
	})
}
