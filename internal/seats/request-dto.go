package seats

type UpdateSeatStatusRequest struct {
	Status Status `json:"status" binding:"required,oneof=AVAILABLE BLOCKED"`
}
