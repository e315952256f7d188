package dto

type CreateRoomRequest struct {
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	Capacity     int    `json:"capacity" binding:"required,gt=0"`
	AdmissionFee int64  `json:"admission_fee" binding:"gte=0"`
}
